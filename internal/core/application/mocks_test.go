package application_test

import (
	"context"
	"fmt"
	"sort"

	"github.com/rentgrid/rentd/internal/core/application"
	"github.com/rentgrid/rentd/internal/core/domain"
	"github.com/rentgrid/rentd/internal/core/ports"
)

const (
	adminAddr = domain.Address("0x00000000000000000000000000000000000000ad")
	aliceAddr = domain.Address("0x000000000000000000000000000000000000aaaa")
	bobAddr   = domain.Address("0x000000000000000000000000000000000000bbbb")
	carolAddr = domain.Address("0x000000000000000000000000000000000000cccc")
	tokenX    = domain.Address("0x0000000000000000000000000000000000001111")
	tokenY    = domain.Address("0x0000000000000000000000000000000000002222")
)

type inMemoryLedgerRepo struct {
	instruments map[domain.Address]domain.PaymentInstrument
	rents       map[string]uint64
	protocol    map[domain.Address]uint64
}

func newInMemoryLedgerRepo() *inMemoryLedgerRepo {
	return &inMemoryLedgerRepo{
		instruments: make(map[domain.Address]domain.PaymentInstrument),
		rents:       make(map[string]uint64),
		protocol:    make(map[domain.Address]uint64),
	}
}

func rentKey(asset uint64, instrument domain.Address) string {
	return fmt.Sprintf("%d/%s", asset, instrument)
}

func (r *inMemoryLedgerRepo) UpsertInstrument(
	_ context.Context, instrument domain.PaymentInstrument,
) error {
	r.instruments[instrument.ID] = instrument
	return nil
}

func (r *inMemoryLedgerRepo) GetInstrument(
	_ context.Context, id domain.Address,
) (*domain.PaymentInstrument, error) {
	instrument, ok := r.instruments[id]
	if !ok {
		return nil, nil
	}
	return &instrument, nil
}

func (r *inMemoryLedgerRepo) ListInstruments(
	_ context.Context,
) ([]domain.PaymentInstrument, error) {
	all := make([]domain.PaymentInstrument, 0, len(r.instruments))
	for _, instrument := range r.instruments {
		all = append(all, instrument)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Position < all[j].Position })
	return all, nil
}

func (r *inMemoryLedgerRepo) GetRentBalance(
	_ context.Context, asset uint64, instrument domain.Address,
) (uint64, error) {
	return r.rents[rentKey(asset, instrument)], nil
}

func (r *inMemoryLedgerRepo) SetRentBalance(
	_ context.Context, asset uint64, instrument domain.Address, amount uint64,
) error {
	if amount == 0 {
		delete(r.rents, rentKey(asset, instrument))
		return nil
	}
	r.rents[rentKey(asset, instrument)] = amount
	return nil
}

func (r *inMemoryLedgerRepo) ListRentBalances(
	_ context.Context, asset uint64,
) ([]domain.RentBalance, error) {
	var balances []domain.RentBalance
	for key, amount := range r.rents {
		var a uint64
		var instrument string
		if _, err := fmt.Sscanf(key, "%d/%s", &a, &instrument); err != nil {
			return nil, err
		}
		if a == asset {
			balances = append(balances, domain.RentBalance{
				Asset: a, Instrument: domain.Address(instrument), Amount: amount,
			})
		}
	}
	sort.Slice(balances, func(i, j int) bool {
		return balances[i].Instrument < balances[j].Instrument
	})
	return balances, nil
}

func (r *inMemoryLedgerRepo) GetProtocolBalance(
	_ context.Context, instrument domain.Address,
) (uint64, error) {
	return r.protocol[instrument], nil
}

func (r *inMemoryLedgerRepo) SetProtocolBalance(
	_ context.Context, instrument domain.Address, amount uint64,
) error {
	r.protocol[instrument] = amount
	return nil
}

func (r *inMemoryLedgerRepo) Close() {}

type inMemoryRegistryRepo struct {
	records   map[uint64]domain.OwnershipRecord
	global    []uint64
	byOwner   map[domain.Address][]uint64
	operators map[domain.OperatorApproval]bool
}

func newInMemoryRegistryRepo() *inMemoryRegistryRepo {
	return &inMemoryRegistryRepo{
		records:   make(map[uint64]domain.OwnershipRecord),
		byOwner:   make(map[domain.Address][]uint64),
		operators: make(map[domain.OperatorApproval]bool),
	}
}

func (r *inMemoryRegistryRepo) AddRecord(
	_ context.Context, record domain.OwnershipRecord,
) error {
	record.GlobalIndex = uint64(len(r.global))
	record.OwnerIndex = uint64(len(r.byOwner[record.Holder]))
	r.global = append(r.global, record.Asset)
	r.byOwner[record.Holder] = append(r.byOwner[record.Holder], record.Asset)
	r.records[record.Asset] = record
	return nil
}

func (r *inMemoryRegistryRepo) GetRecord(
	_ context.Context, asset uint64,
) (*domain.OwnershipRecord, error) {
	record, ok := r.records[asset]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (r *inMemoryRegistryRepo) UpdateRecord(
	_ context.Context, record domain.OwnershipRecord,
) error {
	old, ok := r.records[record.Asset]
	if !ok {
		return fmt.Errorf("record not found")
	}
	record.GlobalIndex = old.GlobalIndex
	record.OwnerIndex = old.OwnerIndex
	if old.Holder != record.Holder {
		r.removeFromOwner(old.Holder, old.OwnerIndex)
		record.OwnerIndex = uint64(len(r.byOwner[record.Holder]))
		r.byOwner[record.Holder] = append(r.byOwner[record.Holder], record.Asset)
	}
	r.records[record.Asset] = record
	return nil
}

func (r *inMemoryRegistryRepo) RemoveRecord(_ context.Context, asset uint64) error {
	record, ok := r.records[asset]
	if !ok {
		return fmt.Errorf("record not found")
	}
	r.removeFromOwner(record.Holder, record.OwnerIndex)

	// swap-and-truncate the global enumeration
	lastIdx := uint64(len(r.global) - 1)
	if record.GlobalIndex != lastIdx {
		moved := r.global[lastIdx]
		r.global[record.GlobalIndex] = moved
		movedRecord := r.records[moved]
		movedRecord.GlobalIndex = record.GlobalIndex
		r.records[moved] = movedRecord
	}
	r.global = r.global[:lastIdx]
	delete(r.records, asset)
	return nil
}

func (r *inMemoryRegistryRepo) removeFromOwner(owner domain.Address, index uint64) {
	assets := r.byOwner[owner]
	lastIdx := uint64(len(assets) - 1)
	if index != lastIdx {
		moved := assets[lastIdx]
		assets[index] = moved
		movedRecord := r.records[moved]
		movedRecord.OwnerIndex = index
		r.records[moved] = movedRecord
	}
	r.byOwner[owner] = assets[:lastIdx]
}

func (r *inMemoryRegistryRepo) TotalSupply(_ context.Context) (uint64, error) {
	return uint64(len(r.global)), nil
}

func (r *inMemoryRegistryRepo) AssetByIndex(_ context.Context, index uint64) (uint64, error) {
	if index >= uint64(len(r.global)) {
		return 0, fmt.Errorf("index out of range")
	}
	return r.global[index], nil
}

func (r *inMemoryRegistryRepo) AssetOfOwnerByIndex(
	_ context.Context, owner domain.Address, index uint64,
) (uint64, error) {
	assets := r.byOwner[owner]
	if index >= uint64(len(assets)) {
		return 0, fmt.Errorf("index out of range")
	}
	return assets[index], nil
}

func (r *inMemoryRegistryRepo) BalanceOf(
	_ context.Context, owner domain.Address,
) (uint64, error) {
	return uint64(len(r.byOwner[owner])), nil
}

func (r *inMemoryRegistryRepo) SetOperatorApproval(
	_ context.Context, owner, operator domain.Address, approved bool,
) error {
	key := domain.OperatorApproval{Owner: owner, Operator: operator}
	if !approved {
		delete(r.operators, key)
		return nil
	}
	r.operators[key] = true
	return nil
}

func (r *inMemoryRegistryRepo) IsOperatorApproved(
	_ context.Context, owner, operator domain.Address,
) (bool, error) {
	return r.operators[domain.OperatorApproval{Owner: owner, Operator: operator}], nil
}

func (r *inMemoryRegistryRepo) Close() {}

type inMemorySettingsRepo struct {
	settings *domain.Settings
}

func (r *inMemorySettingsRepo) Get(_ context.Context) (*domain.Settings, error) {
	return r.settings, nil
}

func (r *inMemorySettingsRepo) Upsert(_ context.Context, settings domain.Settings) error {
	r.settings = &settings
	return nil
}

func (r *inMemorySettingsRepo) Close() {}

type inMemoryEventRepo struct {
	events []domain.Event
}

func (r *inMemoryEventRepo) Append(_ context.Context, events ...domain.Event) error {
	r.events = append(r.events, events...)
	return nil
}

func (r *inMemoryEventRepo) List(_ context.Context, limit int) ([]domain.Event, error) {
	if limit > 0 && limit < len(r.events) {
		return r.events[len(r.events)-limit:], nil
	}
	return r.events, nil
}

func (r *inMemoryEventRepo) countByType(eventType domain.EventType) int {
	count := 0
	for _, event := range r.events {
		if event.Type == eventType {
			count++
		}
	}
	return count
}

func (r *inMemoryEventRepo) Close() {}

type mockRepoManager struct {
	ledger   *inMemoryLedgerRepo
	registry *inMemoryRegistryRepo
	settings *inMemorySettingsRepo
	events   *inMemoryEventRepo
}

func newMockRepoManager() *mockRepoManager {
	return &mockRepoManager{
		ledger:   newInMemoryLedgerRepo(),
		registry: newInMemoryRegistryRepo(),
		settings: &inMemorySettingsRepo{},
		events:   &inMemoryEventRepo{},
	}
}

func (m *mockRepoManager) Ledger() domain.LedgerRepository     { return m.ledger }
func (m *mockRepoManager) Registry() domain.RegistryRepository { return m.registry }
func (m *mockRepoManager) Settings() domain.SettingsRepository { return m.settings }
func (m *mockRepoManager) Events() domain.EventRepository      { return m.events }
func (m *mockRepoManager) Close()                              {}

type recordedPayment struct {
	recipient  domain.Address
	instrument domain.Address
	amount     uint64
}

type mockPaymentExecutor struct {
	payments []recordedPayment
	// failOn makes the executor fail when about to pay the given recipient
	// and instrument
	failOn *recordedPayment
	// onTransfer, when set, runs before recording the payment; used to model
	// a recipient re-entering the claim path
	onTransfer func(ctx context.Context)
}

func (m *mockPaymentExecutor) Transfer(
	ctx context.Context, recipient, instrument domain.Address, amount uint64,
) error {
	if m.onTransfer != nil {
		hook := m.onTransfer
		m.onTransfer = nil
		hook(ctx)
	}
	if m.failOn != nil &&
		m.failOn.recipient == recipient && m.failOn.instrument == instrument {
		return fmt.Errorf("transfer reverted")
	}
	m.payments = append(m.payments, recordedPayment{recipient, instrument, amount})
	return nil
}

type mockRentalSource struct {
	pending map[uint64][]ports.PendingRent
	err     error
	settled []uint64
}

func (m *mockRentalSource) PendingRents(
	_ context.Context, asset uint64,
) ([]ports.PendingRent, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.pending[asset], nil
}

func (m *mockRentalSource) MarkSettled(_ context.Context, asset uint64) error {
	m.settled = append(m.settled, asset)
	delete(m.pending, asset)
	return nil
}

type mockReceiver struct {
	ack [4]byte
	err error
}

func (m *mockReceiver) OnAssetReceived(
	_ context.Context, _, _ domain.Address, _ uint64,
) ([4]byte, error) {
	return m.ack, m.err
}

type mockReceiverRegistry struct {
	receivers map[domain.Address]ports.AssetReceiver
}

func (m *mockReceiverRegistry) Resolve(addr domain.Address) (ports.AssetReceiver, bool) {
	receiver, ok := m.receivers[addr]
	return receiver, ok
}

type testEnv struct {
	repo     *mockRepoManager
	payments *mockPaymentExecutor
	rental   *mockRentalSource
	ledger   application.LedgerService
	registry application.RegistryService
}

func newTestEnv(tb interface {
	Fatalf(format string, args ...any)
}, receivers ports.ReceiverRegistry) *testEnv {
	repo := newMockRepoManager()
	payments := &mockPaymentExecutor{}
	rental := &mockRentalSource{pending: make(map[uint64][]ports.PendingRent)}

	ledgerSvc, err := application.NewLedgerService(repo, payments, rental, adminAddr)
	if err != nil {
		tb.Fatalf("new ledger service: %v", err)
	}
	registrySvc, err := application.NewRegistryService(repo, ledgerSvc, receivers, adminAddr)
	if err != nil {
		tb.Fatalf("new registry service: %v", err)
	}

	return &testEnv{
		repo:     repo,
		payments: payments,
		rental:   rental,
		ledger:   ledgerSvc,
		registry: registrySvc,
	}
}
