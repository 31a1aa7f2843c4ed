package localdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	commonerrors "github.com/tradsys/clobcore/internal/common/errors"
	"github.com/tradsys/clobcore/internal/ledger"
)

// Driver is a gorm-backed Adapter. Choice semantics for the domain's own
// choices (FillOrder, CancelOrder, TriggerStopLoss) are implemented here
// because, in a real Canton/Daml deployment, that logic would live in the
// on-ledger template code this driver stands in for.
type Driver struct {
	db     *gorm.DB
	logger *zap.Logger

	mu        sync.Mutex // serializes offset allocation and active-contract lookups
	notify    chan struct{}
	notifyMu  sync.Mutex
}

// Open opens a Driver against any gorm dialector (sqlite for tests/dev,
// postgres for a shared reference deployment) and runs migrations.
func Open(db *gorm.DB, logger *zap.Logger) (*Driver, error) {
	if err := db.AutoMigrate(&contractRow{}, &offsetRow{}); err != nil {
		return nil, fmt.Errorf("localdriver: migrate: %w", err)
	}
	d := &Driver{db: db, logger: logger, notify: make(chan struct{}, 1)}
	return d, nil
}

var _ ledger.Adapter = (*Driver)(nil)

func (d *Driver) nextOffset() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var row offsetRow
	err := d.db.FirstOrCreate(&row, offsetRow{}).Error
	if err != nil {
		return 0, err
	}
	row.Counter++
	if err := d.db.Save(&row).Error; err != nil {
		return 0, err
	}
	return row.Counter, nil
}

func (d *Driver) wake() {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func toEntry(r contractRow) (ledger.ContractEntry, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(r.PayloadRaw), &payload); err != nil {
		return ledger.ContractEntry{}, err
	}
	return ledger.ContractEntry{
		ContractID: r.ContractID,
		TemplateID: ledger.TemplateID(r.TemplateID),
		Payload:    payload,
	}, nil
}

// SubmitCommand implements ledger.Adapter.
func (d *Driver) SubmitCommand(ctx context.Context, actAs, readAs []string, cmd ledger.Command) (ledger.TransactionResult, error) {
	if cmd.ContractID == "" {
		return d.create(cmd)
	}
	return d.exercise(cmd)
}

func (d *Driver) create(cmd ledger.Command) (ledger.TransactionResult, error) {
	off, err := d.nextOffset()
	if err != nil {
		return ledger.TransactionResult{}, commonerrors.Wrap(err, commonerrors.Transport, "localdriver: allocate offset")
	}

	raw, err := json.Marshal(cmd.Argument)
	if err != nil {
		return ledger.TransactionResult{}, commonerrors.Wrap(err, commonerrors.Validation, "localdriver: marshal argument")
	}

	row := contractRow{
		ContractID: uuid.New().String(),
		TemplateID: string(cmd.TemplateID),
		PayloadRaw: string(raw),
		Offset:     off,
	}
	if err := d.db.Create(&row).Error; err != nil {
		return ledger.TransactionResult{}, commonerrors.Wrap(err, commonerrors.Transport, "localdriver: create contract")
	}
	d.wake()

	entry, err := toEntry(row)
	if err != nil {
		return ledger.TransactionResult{}, err
	}
	return ledger.TransactionResult{TransactionID: uuid.New().String(), Created: []ledger.ContractEntry{entry}}, nil
}

func (d *Driver) exercise(cmd ledger.Command) (ledger.TransactionResult, error) {
	d.mu.Lock()
	var row contractRow
	err := d.db.Where("contract_id = ? AND archived = ?", cmd.ContractID, false).First(&row).Error
	d.mu.Unlock()
	if err == gorm.ErrRecordNotFound {
		return ledger.TransactionResult{}, commonerrors.New(commonerrors.ContractNotFound, "localdriver: contract not active: "+cmd.ContractID)
	}
	if err != nil {
		return ledger.TransactionResult{}, commonerrors.Wrap(err, commonerrors.Transport, "localdriver: lookup contract")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(row.PayloadRaw), &payload); err != nil {
		return ledger.TransactionResult{}, commonerrors.Wrap(err, commonerrors.Transport, "localdriver: unmarshal payload")
	}

	newPayload, recreate, err := applyChoice(cmd.Choice, payload, cmd.Argument)
	if err != nil {
		return ledger.TransactionResult{}, err
	}

	off, err := d.nextOffset()
	if err != nil {
		return ledger.TransactionResult{}, commonerrors.Wrap(err, commonerrors.Transport, "localdriver: allocate offset")
	}

	now := time.Now()
	archive := d.db.Model(&contractRow{}).Where("id = ? AND archived = ?", row.ID, false).
		Updates(map[string]interface{}{"archived": true, "archived_at": &now, "offset": off})
	if archive.Error != nil {
		return ledger.TransactionResult{}, commonerrors.Wrap(archive.Error, commonerrors.Transport, "localdriver: archive contract")
	}
	if archive.RowsAffected == 0 {
		// A concurrent exercise archived the contract after the lookup.
		return ledger.TransactionResult{}, commonerrors.New(commonerrors.ContractNotFound, "localdriver: contract not active: "+cmd.ContractID)
	}

	result := ledger.TransactionResult{TransactionID: uuid.New().String(), Archived: []string{row.ContractID}}

	if recreate {
		raw, err := json.Marshal(newPayload)
		if err != nil {
			return ledger.TransactionResult{}, commonerrors.Wrap(err, commonerrors.Validation, "localdriver: marshal new payload")
		}
		newOff, err := d.nextOffset()
		if err != nil {
			return ledger.TransactionResult{}, commonerrors.Wrap(err, commonerrors.Transport, "localdriver: allocate offset")
		}
		newRow := contractRow{
			ContractID: uuid.New().String(),
			TemplateID: row.TemplateID,
			PayloadRaw: string(raw),
			Offset:     newOff,
		}
		if err := d.db.Create(&newRow).Error; err != nil {
			return ledger.TransactionResult{}, commonerrors.Wrap(err, commonerrors.Transport, "localdriver: recreate contract")
		}
		entry, err := toEntry(newRow)
		if err != nil {
			return ledger.TransactionResult{}, err
		}
		result.Created = []ledger.ContractEntry{entry}
	}

	d.wake()
	return result, nil
}

// applyChoice plays the role of on-ledger template choice logic for the
// choices the core exercises. Unknown choices are a no-op archive+recreate
// with the argument merged shallowly into the payload, so drivers for new
// choices can be added without touching this switch.
func applyChoice(choice string, payload, arg map[string]interface{}) (map[string]interface{}, bool, error) {
	switch choice {
	case "FillOrder":
		return fillOrder(payload, arg)
	case "CancelOrder", "ExecuteAllocation", "WithdrawAllocation":
		return nil, false, nil
	case "TriggerStopLoss":
		return triggerStopLoss(payload, arg)
	default:
		merged := make(map[string]interface{}, len(payload)+len(arg))
		for k, v := range payload {
			merged[k] = v
		}
		for k, v := range arg {
			merged[k] = v
		}
		return merged, true, nil
	}
}

func decimalField(m map[string]interface{}, key string) decimal.Decimal {
	v, ok := m[key]
	if !ok {
		return decimal.Zero
	}
	s, ok := v.(string)
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func fillOrder(payload, arg map[string]interface{}) (map[string]interface{}, bool, error) {
	matchQty := decimalField(arg, "matchQty")
	filled := decimalField(payload, "filled").Add(matchQty)
	quantity := decimalField(payload, "quantity")

	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	out["filled"] = filled.String()
	if filled.GreaterThanOrEqual(quantity) {
		out["status"] = "FILLED"
	} else {
		out["status"] = "PARTIALLY_FILLED"
	}
	return out, true, nil
}

func triggerStopLoss(payload, arg map[string]interface{}) (map[string]interface{}, bool, error) {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	out["status"] = "OPEN"
	out["mode"] = "MARKET"
	out["price"] = nil
	out["triggeredAt"] = arg["triggeredAt"]
	out["triggerPrice"] = arg["triggerPrice"]
	return out, true, nil
}

// QueryActive implements ledger.Adapter, honouring the 200-element cap.
func (d *Driver) QueryActive(ctx context.Context, party string, templates []ledger.TemplateID, pageSize int) ([]ledger.ContractEntry, error) {
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 200
	}
	var rows []contractRow
	q := d.db.Where("archived = ?", false)
	if len(templates) > 0 {
		names := make([]string, len(templates))
		for i, t := range templates {
			names[i] = string(t)
		}
		q = q.Where("template_id IN ?", names)
	}
	if err := q.Order("offset asc").Limit(pageSize).Find(&rows).Error; err != nil {
		return nil, commonerrors.Wrap(err, commonerrors.Transport, "localdriver: query active")
	}
	entries := make([]ledger.ContractEntry, 0, len(rows))
	for _, r := range rows {
		e, err := toEntry(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// StreamActiveAtOffset implements ledger.Adapter's finite bootstrap stream.
func (d *Driver) StreamActiveAtOffset(ctx context.Context, offset ledger.Offset, templates []ledger.TemplateID) (<-chan ledger.ContractEntry, <-chan error) {
	out := make(chan ledger.ContractEntry, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		snapshotOffset := parseOffset(offset)
		var rows []contractRow
		q := d.db.Where("offset <= ? AND (archived = ? OR archived_at > ?)", snapshotOffset, false, time.Unix(0, 0))
		if len(templates) > 0 {
			names := make([]string, len(templates))
			for i, t := range templates {
				names[i] = string(t)
			}
			q = q.Where("template_id IN ?", names)
		}
		if err := q.Order("offset asc").Find(&rows).Error; err != nil {
			select {
			case errc <- commonerrors.Wrap(err, commonerrors.Transport, "localdriver: bootstrap query"):
			default:
			}
			return
		}
		for _, r := range rows {
			if r.Archived {
				continue // archived before or at the snapshot: not active at that point
			}
			e, err := toEntry(r)
			if err != nil {
				select {
				case errc <- err:
				default:
				}
				return
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errc
}

// StreamUpdates implements ledger.Adapter's infinite live subscription by
// polling the table; real drivers would use a server push.
func (d *Driver) StreamUpdates(ctx context.Context, fromOffset ledger.Offset, templates []ledger.TemplateID) (<-chan ledger.Event, <-chan error) {
	out := make(chan ledger.Event, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		cursor := parseOffset(fromOffset)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-d.notify:
			}

			var rows []contractRow
			q := d.db.Unscoped().Where("offset > ?", cursor)
			if len(templates) > 0 {
				names := make([]string, len(templates))
				for i, t := range templates {
					names[i] = string(t)
				}
				q = q.Where("template_id IN ?", names)
			}
			if err := q.Order("offset asc").Find(&rows).Error; err != nil {
				select {
				case errc <- commonerrors.Wrap(err, commonerrors.Transport, "localdriver: poll updates"):
				case <-ctx.Done():
				}
				return
			}
			for _, r := range rows {
				cursor = r.Offset
				if r.Archived {
					select {
					case out <- ledger.Event{Archived: true, Offset: ledger.Offset(fmt.Sprint(r.Offset)), Contract: ledger.ContractEntry{ContractID: r.ContractID, TemplateID: ledger.TemplateID(r.TemplateID)}}:
					case <-ctx.Done():
						return
					}
					continue
				}
				e, err := toEntry(r)
				if err != nil {
					continue
				}
				select {
				case out <- ledger.Event{Archived: false, Offset: ledger.Offset(fmt.Sprint(r.Offset)), Contract: e}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, errc
}

// ExecuteAllocation archives the allocation contract, marking it executed.
func (d *Driver) ExecuteAllocation(ctx context.Context, allocationRef, executor, ownerHint string) (ledger.TransactionResult, error) {
	return d.exercise(ledger.Command{ContractID: allocationRef, Choice: "ExecuteAllocation", Argument: map[string]interface{}{"executor": executor}})
}

// WithdrawAllocation archives the allocation contract, releasing funds back to owner.
func (d *Driver) WithdrawAllocation(ctx context.Context, allocationRef, owner string) (ledger.TransactionResult, error) {
	return d.exercise(ledger.Command{ContractID: allocationRef, Choice: "WithdrawAllocation", Argument: map[string]interface{}{"owner": owner}})
}

// GetLedgerEnd returns the current offset counter as a snapshot point.
func (d *Driver) GetLedgerEnd(ctx context.Context) (ledger.Offset, error) {
	var row offsetRow
	if err := d.db.FirstOrCreate(&row, offsetRow{}).Error; err != nil {
		return "", commonerrors.Wrap(err, commonerrors.Transport, "localdriver: get ledger end")
	}
	return ledger.Offset(fmt.Sprint(row.Counter)), nil
}

func parseOffset(o ledger.Offset) int64 {
	var n int64
	_, _ = fmt.Sscan(string(o), &n)
	return n
}
