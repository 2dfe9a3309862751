// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package report exports the guarantee fund ledger and the audit log as
// an XLSX workbook for reconciliation.
package report

import (
	"context"
	"io"
	"time"

	"github.com/juju/errors"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain/audit"
	"github.com/canonical/vetpay/domain/riskpool"
)

const (
	SummarySheet = "Summary"
	LedgerSheet  = "Fund ledger"
	AuditSheet   = "Audit log"

	// builtin excelize number format "#,##0.00".
	amountFormat = 4
	dateLayout   = time.RFC3339
)

// FundLedger reads the guarantee fund.
type FundLedger interface {
	AllEntries(context.Context) ([]riskpool.Entry, error)
	Health(context.Context) (riskpool.Health, error)
}

// AuditLog reads the audit log.
type AuditLog interface {
	EntriesSince(context.Context, time.Time) ([]audit.LogEntry, error)
}

// Exporter writes workbooks.
type Exporter struct {
	fund  FundLedger
	audit AuditLog
}

// NewExporter returns an Exporter reading from the given sources.
func NewExporter(fund FundLedger, audit AuditLog) *Exporter {
	return &Exporter{fund: fund, audit: audit}
}

// WriteLedger writes a workbook holding a summary of fund health, every
// fund ledger entry and the audit log from since onwards.
func (e *Exporter) WriteLedger(ctx context.Context, w io.Writer, since time.Time) error {
	health, err := e.fund.Health(ctx)
	if err != nil {
		return errors.Annotate(err, "reading fund health")
	}
	entries, err := e.fund.AllEntries(ctx)
	if err != nil {
		return errors.Annotate(err, "reading fund ledger")
	}
	logEntries, err := e.audit.EntriesSince(ctx, since)
	if err != nil {
		return errors.Annotate(err, "reading audit log")
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: amountFormat})
	if err != nil {
		return errors.Trace(err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Trace(err)
	}
	b := &builder{f: f, amountStyle: amountStyle, headerStyle: headerStyle}

	// The default sheet is renamed so the summary comes first.
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return errors.Trace(err)
	}
	if err := b.summary(health, since); err != nil {
		return errors.Annotate(err, "writing summary")
	}
	if err := b.ledger(entries); err != nil {
		return errors.Annotate(err, "writing fund ledger")
	}
	if err := b.auditLog(logEntries); err != nil {
		return errors.Annotate(err, "writing audit log")
	}

	_, err = f.WriteTo(w)
	return errors.Annotate(err, "writing workbook")
}

type builder struct {
	f           *excelize.File
	amountStyle int
	headerStyle int
}

func (b *builder) summary(h riskpool.Health, since time.Time) error {
	rows := [][]any{
		{"Contributions", dollars(h.Contributions)},
		{"Claims", dollars(h.Claims)},
		{"Recoveries", dollars(h.Recoveries)},
		{"Balance", dollars(h.Balance)},
		{"Exposure", dollars(h.Exposure)},
		{"Active plans", h.ActivePlans},
		{"Coverage ratio", h.CoverageRatio},
		{"Covered", h.Covered()},
		{"Audit log since", since.UTC().Format(dateLayout)},
	}
	for i, row := range rows {
		if err := b.row(SummarySheet, i+1, row); err != nil {
			return errors.Trace(err)
		}
	}
	if err := b.f.SetCellStyle(SummarySheet, "B1", "B5", b.amountStyle); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(b.f.SetColWidth(SummarySheet, "A", "A", 18))
}

func (b *builder) ledger(entries []riskpool.Entry) error {
	if err := b.sheet(LedgerSheet, "Entry", "Plan", "Kind", "Amount", "Signed amount", "Created"); err != nil {
		return errors.Trace(err)
	}
	for i, e := range entries {
		row := []any{
			e.UUID,
			e.PlanUUID,
			string(e.Kind),
			dollars(e.Amount),
			dollars(e.Kind.Signed(e.Amount)),
			e.CreatedAt.UTC().Format(dateLayout),
		}
		if err := b.row(LedgerSheet, i+2, row); err != nil {
			return errors.Trace(err)
		}
	}
	if len(entries) > 0 {
		last, err := excelize.CoordinatesToCellName(5, len(entries)+1)
		if err != nil {
			return errors.Trace(err)
		}
		if err := b.f.SetCellStyle(LedgerSheet, "D2", last, b.amountStyle); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(b.f.SetColWidth(LedgerSheet, "A", "B", 38))
}

func (b *builder) auditLog(entries []audit.LogEntry) error {
	if err := b.sheet(AuditSheet, "ID", "Entity type", "Entity", "Action", "Actor", "Old value", "New value", "Created"); err != nil {
		return errors.Trace(err)
	}
	for i, e := range entries {
		actor := string(e.Actor.Kind)
		if e.Actor.ID != "" {
			actor += ":" + e.Actor.ID
		}
		row := []any{
			e.ID,
			e.EntityType,
			e.EntityID,
			e.Action,
			actor,
			e.OldValue,
			e.NewValue,
			e.CreatedAt.UTC().Format(dateLayout),
		}
		if err := b.row(AuditSheet, i+2, row); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// sheet creates a sheet with a bold header row.
func (b *builder) sheet(name string, headers ...string) error {
	if _, err := b.f.NewSheet(name); err != nil {
		return errors.Trace(err)
	}
	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := b.row(name, 1, row); err != nil {
		return errors.Trace(err)
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(b.f.SetCellStyle(name, "A1", last, b.headerStyle))
}

func (b *builder) row(sheet string, n int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(b.f.SetSheetRow(sheet, cell, &values))
}

// dollars converts cents to a currency amount for display.
func dollars(c money.Cents) float64 {
	return decimal.New(int64(c), -2).InexactFloat64()
}
