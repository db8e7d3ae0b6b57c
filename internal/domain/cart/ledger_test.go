package cart

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/money"
)

// --- Mock implementations ---

type mockStore struct {
	saved   map[string][]Line
	saveErr error
	delErr  error
	deletes int
}

func newMockStore() *mockStore {
	return &mockStore{saved: make(map[string][]Line)}
}

func (m *mockStore) Load(_ context.Context, sessionID string) ([]Line, error) {
	return m.saved[sessionID], nil
}

func (m *mockStore) Save(_ context.Context, sessionID string, lines []Line) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved[sessionID] = lines
	return nil
}

func (m *mockStore) Delete(_ context.Context, sessionID string) error {
	if m.delErr != nil {
		return m.delErr
	}
	m.deletes++
	delete(m.saved, sessionID)
	return nil
}

// mockBackend issues its own line ids on add, like the real server cart.
type mockBackend struct {
	added   []Line
	updated map[string]int
	removed []string
	err     error
}

func newMockBackend() *mockBackend {
	return &mockBackend{updated: make(map[string]int)}
}

func (m *mockBackend) AddCartItem(_ context.Context, line Line) (Line, error) {
	if m.err != nil {
		return Line{}, m.err
	}
	m.added = append(m.added, line)
	line.ID = fmt.Sprintf("srv-%d", len(m.added))
	return line, nil
}

func (m *mockBackend) UpdateCartItem(_ context.Context, lineID string, quantity int) error {
	if m.err != nil {
		return m.err
	}
	m.updated[lineID] = quantity
	return nil
}

func (m *mockBackend) RemoveCartItem(_ context.Context, lineID string) error {
	if m.err != nil {
		return m.err
	}
	m.removed = append(m.removed, lineID)
	return nil
}

// --- Helpers ---

func newTestLine(id, productID string, price money.Amount, qty int) Line {
	return Line{
		ID:        id,
		ProductID: productID,
		Name:      "Item " + productID,
		UnitPrice: price,
		Quantity:  qty,
		Category:  "test",
	}
}

// --- Tests ---

func TestLedger_DerivedTotals(t *testing.T) {
	l := NewGuestLedger("s1", nil, newMockStore(), nil)

	require.NoError(t, l.AddLine(context.Background(), newTestLine("", "p1", 1000, 0), 2))
	require.NoError(t, l.AddLine(context.Background(), newTestLine("", "p2", 500, 0), 1))

	s := l.Snapshot()
	assert.Equal(t, money.Amount(2500), s.TotalAmount)
	assert.Equal(t, 3, s.ItemCount)
	assert.Len(t, s.Lines, 2)
}

func TestLedger_AddMergesSameVariant(t *testing.T) {
	l := NewGuestLedger("s1", nil, newMockStore(), nil)

	item := newTestLine("", "p1", 1000, 0)
	item.VariantID = "v1"
	require.NoError(t, l.AddLine(context.Background(), item, 1))
	require.NoError(t, l.AddLine(context.Background(), item, 2))

	s := l.Snapshot()
	require.Len(t, s.Lines, 1)
	assert.Equal(t, 3, s.Lines[0].Quantity)
	assert.Equal(t, money.Amount(3000), s.TotalAmount)
}

func TestLedger_DistinctVariantsAreSeparateLines(t *testing.T) {
	l := NewGuestLedger("s1", nil, newMockStore(), nil)

	a := newTestLine("", "p1", 1000, 0)
	a.VariantID = "v1"
	b := newTestLine("", "p1", 1000, 0)
	b.VariantID = "v2"
	require.NoError(t, l.AddLine(context.Background(), a, 1))
	require.NoError(t, l.AddLine(context.Background(), b, 1))

	assert.Len(t, l.Snapshot().Lines, 2)
}

func TestLedger_AddInvalidQuantity(t *testing.T) {
	l := NewGuestLedger("s1", nil, newMockStore(), nil)

	err := l.AddLine(context.Background(), newTestLine("", "p1", 1000, 0), 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	assert.Empty(t, l.Snapshot().Lines)
}

func TestLedger_UpdateQuantity(t *testing.T) {
	l := NewGuestLedger("s1", nil, newMockStore(), nil)
	require.NoError(t, l.AddLine(context.Background(), newTestLine("", "p1", 1000, 0), 1))
	lineID := l.Snapshot().Lines[0].ID

	require.NoError(t, l.UpdateQuantity(context.Background(), lineID, 5))

	s := l.Snapshot()
	assert.Equal(t, 5, s.Lines[0].Quantity)
	assert.Equal(t, money.Amount(5000), s.TotalAmount)
}

func TestLedger_UpdateQuantityToZeroRemovesLine(t *testing.T) {
	l := NewGuestLedger("s1", nil, newMockStore(), nil)
	require.NoError(t, l.AddLine(context.Background(), newTestLine("", "p1", 1000, 0), 1))
	lineID := l.Snapshot().Lines[0].ID

	require.NoError(t, l.UpdateQuantity(context.Background(), lineID, 0))

	s := l.Snapshot()
	assert.Empty(t, s.Lines)
	assert.Equal(t, money.Amount(0), s.TotalAmount)
}

func TestLedger_UpdateUnknownLine(t *testing.T) {
	l := NewGuestLedger("s1", nil, newMockStore(), nil)

	err := l.UpdateQuantity(context.Background(), "nope", 2)
	var nf *LineNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.LineID)
}

func TestLedger_RemoveLine(t *testing.T) {
	l := NewGuestLedger("s1", nil, newMockStore(), nil)
	require.NoError(t, l.AddLine(context.Background(), newTestLine("", "p1", 1000, 0), 1))
	require.NoError(t, l.AddLine(context.Background(), newTestLine("", "p2", 500, 0), 1))
	lineID := l.Snapshot().Lines[0].ID

	require.NoError(t, l.RemoveLine(context.Background(), lineID))

	s := l.Snapshot()
	require.Len(t, s.Lines, 1)
	assert.Equal(t, "p2", s.Lines[0].ProductID)
}

func TestLedger_GuestPersistsToStore(t *testing.T) {
	store := newMockStore()
	l := NewGuestLedger("s1", nil, store, nil)

	require.NoError(t, l.AddLine(context.Background(), newTestLine("", "p1", 1000, 0), 2))

	require.Len(t, store.saved["s1"], 1)
	assert.Equal(t, 2, store.saved["s1"][0].Quantity)
}

func TestLedger_GuestStoreFailureLeavesStateUnchanged(t *testing.T) {
	store := newMockStore()
	l := NewGuestLedger("s1", nil, store, nil)
	require.NoError(t, l.AddLine(context.Background(), newTestLine("", "p1", 1000, 0), 1))

	store.saveErr = errors.New("redis down")
	err := l.AddLine(context.Background(), newTestLine("", "p2", 500, 0), 1)
	require.Error(t, err)

	s := l.Snapshot()
	assert.Len(t, s.Lines, 1)
	assert.Equal(t, money.Amount(1000), s.TotalAmount)
}

func TestLedger_AuthenticatedServerFailureLeavesStateUnchanged(t *testing.T) {
	backend := newMockBackend()
	l := NewAuthenticatedLedger("s1", []Line{newTestLine("l1", "p1", 1000, 2)}, backend)

	backend.err = errors.New("server unavailable")
	err := l.UpdateQuantity(context.Background(), "l1", 5)
	require.Error(t, err)

	assert.Equal(t, 2, l.Snapshot().Lines[0].Quantity)
}

func TestLedger_AuthenticatedMutationsHitBackendFirst(t *testing.T) {
	backend := newMockBackend()
	l := NewAuthenticatedLedger("s1", nil, backend)

	require.NoError(t, l.AddLine(context.Background(), newTestLine("", "p1", 1000, 0), 2))
	require.Len(t, backend.added, 1)

	lineID := l.Snapshot().Lines[0].ID
	require.NoError(t, l.UpdateQuantity(context.Background(), lineID, 3))
	assert.Equal(t, 3, backend.updated[lineID])

	require.NoError(t, l.RemoveLine(context.Background(), lineID))
	assert.Equal(t, []string{lineID}, backend.removed)
}

func TestLedger_AuthenticatedAddAdoptsServerLineID(t *testing.T) {
	backend := newMockBackend()
	l := NewAuthenticatedLedger("s1", nil, backend)

	require.NoError(t, l.AddLine(context.Background(), newTestLine("", "p1", 1000, 0), 1))

	lineID := l.Snapshot().Lines[0].ID
	require.Equal(t, "srv-1", lineID)

	// updates and removes address the server-issued id
	require.NoError(t, l.UpdateQuantity(context.Background(), lineID, 3))
	assert.Equal(t, 3, backend.updated["srv-1"])
	require.NoError(t, l.RemoveLine(context.Background(), lineID))
	assert.Equal(t, []string{"srv-1"}, backend.removed)
}

func TestLedger_AuthenticatedClearRemovesServerLines(t *testing.T) {
	backend := newMockBackend()
	l := NewAuthenticatedLedger("s1", []Line{
		newTestLine("srv-1", "p1", 1000, 2),
		newTestLine("srv-2", "p2", 500, 1),
	}, backend)

	require.NoError(t, l.Clear(context.Background()))

	assert.Equal(t, []string{"srv-1", "srv-2"}, backend.removed)
	assert.Empty(t, l.Snapshot().Lines)
}

func TestLedger_AuthenticatedClearFailureKeepsLines(t *testing.T) {
	backend := newMockBackend()
	backend.err = errors.New("server unavailable")
	l := NewAuthenticatedLedger("s1", []Line{
		newTestLine("srv-1", "p1", 1000, 2),
		newTestLine("srv-2", "p2", 500, 1),
	}, backend)

	require.Error(t, l.Clear(context.Background()))
	assert.Len(t, l.Snapshot().Lines, 2)
}

func TestLedger_MergeOnLogin(t *testing.T) {
	store := newMockStore()
	backend := newMockBackend()
	local := newTestLine("l1", "p1", 1000, 2)
	l := NewGuestLedger("s1", []Line{local}, store, backend)
	store.saved["s1"] = []Line{local}

	serverOnly := newTestLine("srv1", "p2", 500, 1)
	serverSame := newTestLine("srv2", "p1", 1000, 1)
	require.NoError(t, l.MergeOnLogin(context.Background(), []Line{serverOnly, serverSame}))

	require.True(t, l.Authenticated())
	s := l.Snapshot()
	require.Len(t, s.Lines, 2)
	assert.Equal(t, money.Amount(3500), s.TotalAmount)

	// local lines were pushed to the server and the guest copy dropped
	require.Len(t, backend.added, 1)
	assert.Equal(t, "p1", backend.added[0].ProductID)
	assert.Equal(t, 1, store.deletes)
}

func TestLedger_MergeOnLoginAdoptsServerIDs(t *testing.T) {
	backend := newMockBackend()
	l := NewGuestLedger("s1", []Line{newTestLine("guest-1", "p1", 1000, 2)}, newMockStore(), backend)

	require.NoError(t, l.MergeOnLogin(context.Background(), nil))

	// the guest-minted id is gone; post-merge mutations hit a real server line
	lineID := l.Snapshot().Lines[0].ID
	require.Equal(t, "srv-1", lineID)
	require.NoError(t, l.RemoveLine(context.Background(), lineID))
	assert.Equal(t, []string{"srv-1"}, backend.removed)
}

func TestLedger_MergeOnLoginBackendFailureStaysGuest(t *testing.T) {
	backend := newMockBackend()
	backend.err = errors.New("server unavailable")
	l := NewGuestLedger("s1", []Line{newTestLine("l1", "p1", 1000, 2)}, newMockStore(), backend)

	err := l.MergeOnLogin(context.Background(), nil)
	require.Error(t, err)
	assert.False(t, l.Authenticated())
	assert.Len(t, l.Snapshot().Lines, 1)
}

func TestLedger_Clear(t *testing.T) {
	store := newMockStore()
	l := NewGuestLedger("s1", []Line{newTestLine("l1", "p1", 1000, 2)}, store, nil)
	store.saved["s1"] = []Line{newTestLine("l1", "p1", 1000, 2)}

	require.NoError(t, l.Clear(context.Background()))

	assert.Empty(t, l.Snapshot().Lines)
	assert.NotContains(t, store.saved, "s1")
}

func TestLedger_SnapshotIsACopy(t *testing.T) {
	l := NewGuestLedger("s1", nil, newMockStore(), nil)
	require.NoError(t, l.AddLine(context.Background(), newTestLine("", "p1", 1000, 0), 1))

	s := l.Snapshot()
	s.Lines[0].Quantity = 99

	assert.Equal(t, 1, l.Snapshot().Lines[0].Quantity)
}
