// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package schema

import (
	"fmt"

	"github.com/canonical/vetpay/core/database/schema"
)

// LedgerDDL is used to create the payment plan ledger database.
func LedgerDDL() *schema.Schema {
	patches := []func() schema.Patch{
		planSchema,
		paymentSchema,
		payoutSchema,
		riskPoolSchema,
		softCollectionSchema,
		auditLogSchema,
		notificationSchema,
	}

	// Ledger rows are retained for regulatory purposes and must never be
	// rewritten or removed.
	patches = append(patches,
		triggersForImmutableTable("risk_pool_entry", "guarantee fund ledger is append-only"),
		triggersForImmutableTable("audit_log", "audit log is append-only"),
		triggersForUndeletableTable("plan", "plans are retained"),
		triggersForUndeletableTable("payment", "payments are retained"),
		triggersForUndeletableTable("payout", "payouts are retained"),
	)

	ledgerSchema := schema.New()
	for _, fn := range patches {
		ledgerSchema.Add(fn())
	}
	return ledgerSchema
}

func planSchema() schema.Patch {
	return schema.MakePatch(`
CREATE TABLE plan (
    uuid                TEXT NOT NULL PRIMARY KEY,
    owner_id            TEXT NOT NULL,
    owner_email         TEXT NOT NULL DEFAULT '',
    owner_phone         TEXT NOT NULL DEFAULT '',
    payer_reference     TEXT NOT NULL,
    clinic_id           TEXT NOT NULL,
    clinic_account      TEXT NOT NULL,
    bill_cents          INT NOT NULL CHECK (bill_cents > 0),
    fee_cents           INT NOT NULL CHECK (fee_cents >= 0),
    total_cents         INT NOT NULL CHECK (total_cents > 0),
    deposit_cents       INT NOT NULL CHECK (deposit_cents > 0),
    remaining_cents     INT NOT NULL CHECK (remaining_cents >= 0),
    installment_cents   INT NOT NULL CHECK (installment_cents > 0),
    installment_count   INT NOT NULL CHECK (installment_count > 0),
    status              TEXT NOT NULL CHECK (status IN ('pending', 'active', 'completed', 'defaulted', 'cancelled')),
    deposit_paid_at     DATETIME,
    next_payment_at     DATETIME,
    completed_at        DATETIME,
    created_at          DATETIME NOT NULL,
    updated_at          DATETIME NOT NULL
);

CREATE INDEX idx_plan_status ON plan (status);
CREATE INDEX idx_plan_clinic ON plan (clinic_id);`[1:])
}

func paymentSchema() schema.Patch {
	return schema.MakePatch(`
CREATE TABLE payment (
    uuid                TEXT NOT NULL PRIMARY KEY,
    plan_uuid           TEXT NOT NULL,
    type                TEXT NOT NULL CHECK (type IN ('deposit', 'installment')),
    sequence            INT NOT NULL CHECK (sequence >= 0),
    amount_cents        INT NOT NULL CHECK (amount_cents > 0),
    status              TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'succeeded', 'failed', 'retried', 'written_off')),
    external_ref        TEXT,
    failure_reason      TEXT,
    retry_count         INT NOT NULL DEFAULT 0 CHECK (retry_count >= 0),
    scheduled_at        DATETIME NOT NULL,
    processed_at        DATETIME,
    updated_at          DATETIME NOT NULL,
    CONSTRAINT          fk_payment_plan
        FOREIGN KEY     (plan_uuid)
        REFERENCES      plan(uuid),
    UNIQUE              (plan_uuid, sequence)
);

CREATE INDEX idx_payment_status_scheduled ON payment (status, scheduled_at);
CREATE UNIQUE INDEX idx_payment_external_ref ON payment (external_ref) WHERE external_ref IS NOT NULL;`[1:])
}

func payoutSchema() schema.Patch {
	return schema.MakePatch(`
CREATE TABLE payout (
    uuid                TEXT NOT NULL PRIMARY KEY,
    payment_uuid        TEXT NOT NULL UNIQUE,
    plan_uuid           TEXT NOT NULL,
    clinic_id           TEXT NOT NULL,
    amount_cents        INT NOT NULL CHECK (amount_cents > 0),
    clinic_share_cents  INT NOT NULL CHECK (clinic_share_cents > 0),
    transfer_ref        TEXT,
    status              TEXT NOT NULL CHECK (status IN ('pending', 'succeeded', 'failed')),
    failure_reason      TEXT,
    created_at          DATETIME NOT NULL,
    updated_at          DATETIME NOT NULL,
    CONSTRAINT          fk_payout_payment
        FOREIGN KEY     (payment_uuid)
        REFERENCES      payment(uuid),
    CONSTRAINT          fk_payout_plan
        FOREIGN KEY     (plan_uuid)
        REFERENCES      plan(uuid)
);

CREATE INDEX idx_payout_clinic ON payout (clinic_id);`[1:])
}

func riskPoolSchema() schema.Patch {
	return schema.MakePatch(`
CREATE TABLE risk_pool_entry (
    uuid                TEXT NOT NULL PRIMARY KEY,
    plan_uuid           TEXT NOT NULL,
    kind                TEXT NOT NULL CHECK (kind IN ('contribution', 'claim', 'recovery')),
    amount_cents        INT NOT NULL CHECK (amount_cents > 0),
    created_at          DATETIME NOT NULL,
    CONSTRAINT          fk_risk_pool_entry_plan
        FOREIGN KEY     (plan_uuid)
        REFERENCES      plan(uuid)
);

CREATE INDEX idx_risk_pool_entry_plan ON risk_pool_entry (plan_uuid);`[1:])
}

func softCollectionSchema() schema.Patch {
	return schema.MakePatch(`
CREATE TABLE soft_collection (
    uuid                TEXT NOT NULL PRIMARY KEY,
    plan_uuid           TEXT NOT NULL UNIQUE,
    stage               TEXT NOT NULL CHECK (stage IN ('day_1_reminder', 'day_7_followup', 'day_14_final', 'completed', 'cancelled')),
    outstanding_cents   INT NOT NULL CHECK (outstanding_cents >= 0),
    recovered_cents     INT NOT NULL DEFAULT 0 CHECK (recovered_cents >= 0),
    cancel_reason       TEXT,
    started_at          DATETIME NOT NULL,
    last_escalated_at   DATETIME,
    next_escalation_at  DATETIME,
    closed_at           DATETIME,
    CONSTRAINT          fk_soft_collection_plan
        FOREIGN KEY     (plan_uuid)
        REFERENCES      plan(uuid)
);

CREATE INDEX idx_soft_collection_next ON soft_collection (stage, next_escalation_at);`[1:])
}

func auditLogSchema() schema.Patch {
	return schema.MakePatch(`
CREATE TABLE audit_log (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type         TEXT NOT NULL,
    entity_id           TEXT NOT NULL,
    action              TEXT NOT NULL,
    old_value           TEXT,
    new_value           TEXT,
    actor_kind          TEXT NOT NULL CHECK (actor_kind IN ('system', 'admin', 'owner', 'clinic')),
    actor_id            TEXT,
    created_at          DATETIME NOT NULL
);

CREATE INDEX idx_audit_log_entity ON audit_log (entity_type, entity_id);`[1:])
}

func notificationSchema() schema.Patch {
	return schema.MakePatch(`
CREATE TABLE notification_throttle (
    key                 TEXT NOT NULL PRIMARY KEY,
    count               INT NOT NULL,
    expires_at          DATETIME NOT NULL
);

CREATE TABLE notification_opt_out (
    recipient           TEXT NOT NULL,
    channel             TEXT NOT NULL CHECK (channel IN ('email', 'sms')),
    created_at          DATETIME NOT NULL,
    PRIMARY KEY         (recipient, channel)
);`[1:])
}

func triggersForImmutableTable(table, msg string) func() schema.Patch {
	return func() schema.Patch {
		return schema.MakePatch(fmt.Sprintf(`
CREATE TRIGGER trg_%[1]s_immutable_update
    BEFORE UPDATE ON %[1]s
BEGIN
    SELECT RAISE(FAIL, '%[2]s');
END;

CREATE TRIGGER trg_%[1]s_immutable_delete
    BEFORE DELETE ON %[1]s
BEGIN
    SELECT RAISE(FAIL, '%[2]s');
END;`[1:], table, msg))
	}
}

func triggersForUndeletableTable(table, msg string) func() schema.Patch {
	return func() schema.Patch {
		return schema.MakePatch(fmt.Sprintf(`
CREATE TRIGGER trg_%[1]s_no_delete
    BEFORE DELETE ON %[1]s
BEGIN
    SELECT RAISE(FAIL, '%[2]s');
END;`[1:], table, msg))
	}
}
