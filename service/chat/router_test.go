package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NebulaChat/module/message/model"
	"NebulaChat/tools/errs"
)

// ---- 测试替身 ----

type fakeStore struct {
	mu        sync.Mutex
	msgs      map[int64]*model.Message
	nextID    int64
	insertErr error
	advErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{msgs: make(map[int64]*model.Message)}
}

func (f *fakeStore) Insert(_ context.Context, sender, receiver int64, kind model.Kind, content string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.nextID++
	m := &model.Message{
		ID: f.nextID, Sender: sender, Receiver: receiver,
		Kind: kind, Content: content, Status: model.StatusUnsent,
		Timestamp: 1000 + f.nextID, Partition: "202609",
	}
	f.msgs[m.ID] = m
	return m, nil
}

func (f *fakeStore) AdvanceStatus(_ context.Context, _ string, id int64, target model.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advErr != nil {
		return f.advErr
	}
	if m, ok := f.msgs[id]; ok && m.Status < target {
		m.Status = target
	}
	return nil
}

func (f *fakeStore) MarkRead(_ context.Context, reader, counterpart int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed := false
	for _, m := range f.msgs {
		if m.Sender == counterpart && m.Receiver == reader && m.Status < model.StatusRead {
			m.Status = model.StatusRead
			changed = true
		}
	}
	return changed, nil
}

func (f *fakeStore) UnreadCount(_ context.Context, reader, counterpart int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.msgs {
		if m.Sender == counterpart && m.Receiver == reader && m.Status < model.StatusRead {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) History(_ context.Context, _, _ int64, _, _ int64) ([]model.Message, error) {
	return nil, nil
}

func (f *fakeStore) RecentContacts(_ context.Context, _ int64) ([]model.RecentContact, error) {
	return nil, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func (f *fakeStore) get(id int64) model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.msgs[id]
}

type fakeOracle struct {
	pairs map[[2]int64]bool
}

func allowPair(a, b int64) *fakeOracle {
	if a > b {
		a, b = b, a
	}
	return &fakeOracle{pairs: map[[2]int64]bool{{a, b}: true}}
}

func denyAll() *fakeOracle { return &fakeOracle{pairs: map[[2]int64]bool{}} }

func (o *fakeOracle) AreMutualFriends(_ context.Context, a, b int64) (bool, error) {
	if a > b {
		a, b = b, a
	}
	return o.pairs[[2]int64{a, b}], nil
}

type fakeChannel struct {
	mu      sync.Mutex
	frames  [][]byte
	pushErr error
}

func (c *fakeChannel) Push(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pushErr != nil {
		return c.pushErr
	}
	c.frames = append(c.frames, p)
	return nil
}

func (c *fakeChannel) Close() {}

func (c *fakeChannel) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// ---- 用例 ----

func TestDeliverRejectsNonFriends(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry()
	recv := &fakeChannel{}
	reg.Register(2, recv)

	r := NewRouter(reg, store, denyAll())
	_, err := r.Deliver(context.Background(), 1, 2, model.KindDirect, "hi")

	require.ErrorIs(t, err, errs.ErrNotFriends)
	// 无任何副作用：不落库、不转发
	assert.Equal(t, 0, store.count())
	assert.Empty(t, recv.received())
}

func TestDeliverOfflineReceiverStaysUnsent(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry()
	sender := &fakeChannel{}
	reg.Register(1, sender)

	r := NewRouter(reg, store, allowPair(1, 2))
	out, err := r.Deliver(context.Background(), 1, 2, model.KindDirect, "hi")

	require.NoError(t, err)
	assert.True(t, out.Persisted)
	assert.False(t, out.Delivered)
	require.Equal(t, 1, store.count())
	assert.Equal(t, model.StatusUnsent, store.get(out.MessageID).Status)

	// 发送方仍收到 ack：persisted=true delivered=false
	frames := sender.received()
	require.Len(t, frames, 1)
	var ack AckFrame
	require.NoError(t, json.Unmarshal(frames[0], &ack))
	assert.Equal(t, FrameKindAck, ack.Kind)
	assert.True(t, ack.Persisted)
	assert.False(t, ack.Delivered)
}

func TestDeliverOnlineReceiver(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry()
	sender := &fakeChannel{}
	recv := &fakeChannel{}
	reg.Register(1, sender)
	reg.Register(2, recv)

	r := NewRouter(reg, store, allowPair(1, 2))
	out, err := r.Deliver(context.Background(), 1, 2, model.KindDirect, "hello")

	require.NoError(t, err)
	assert.True(t, out.Delivered)
	require.Equal(t, 1, store.count())
	assert.Equal(t, model.StatusDelivered, store.get(out.MessageID).Status)

	frames := recv.received()
	require.Len(t, frames, 1)
	var d DeliverFrame
	require.NoError(t, json.Unmarshal(frames[0], &d))
	assert.Equal(t, DeliverFrame{
		Kind: FrameKindMessage, From: 1, To: 2, Content: "hello",
		Timestamp: d.Timestamp,
	}, d)

	var ack AckFrame
	sf := sender.received()
	require.Len(t, sf, 1)
	require.NoError(t, json.Unmarshal(sf[0], &ack))
	assert.True(t, ack.Delivered)
}

func TestDeliverPushFailureTreatedAsOffline(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry()
	recv := &fakeChannel{pushErr: ErrSendBufferFull}
	reg.Register(2, recv)

	r := NewRouter(reg, store, allowPair(1, 2))
	out, err := r.Deliver(context.Background(), 1, 2, model.KindDirect, "hi")

	// 整体操作不失败；状态留在 unsent 等待后续拉取
	require.NoError(t, err)
	assert.True(t, out.Persisted)
	assert.False(t, out.Delivered)
	assert.Equal(t, model.StatusUnsent, store.get(out.MessageID).Status)

	// 推送失败不摘注册表：那是生命周期管理的事
	_, still := reg.Lookup(2)
	assert.True(t, still)
}

func TestDeliverStorageFailure(t *testing.T) {
	store := newFakeStore()
	store.insertErr = assert.AnError
	reg := NewRegistry()
	recv := &fakeChannel{}
	reg.Register(2, recv)

	r := NewRouter(reg, store, allowPair(1, 2))
	_, err := r.Deliver(context.Background(), 1, 2, model.KindDirect, "hi")

	require.ErrorIs(t, err, errs.ErrStorage)
	// 落库失败后不尝试任何转发
	assert.Empty(t, recv.received())
}

func TestDeliverGroupSkipsFriendshipGate(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry()

	r := NewRouter(reg, store, denyAll())
	out, err := r.Deliver(context.Background(), 1, 2, model.KindGroup, "all hands")

	require.NoError(t, err)
	assert.True(t, out.Persisted)
	assert.Equal(t, 1, store.count())
}

func TestMarkReadIdempotent(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry()
	r := NewRouter(reg, store, allowPair(1, 2))

	out, err := r.Deliver(context.Background(), 1, 2, model.KindDirect, "hi")
	require.NoError(t, err)

	changed, err := r.MarkRead(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.StatusRead, store.get(out.MessageID).Status)

	// 再标一遍：状态保持 read，不回退
	changed, err = r.MarkRead(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, model.StatusRead, store.get(out.MessageID).Status)
}

func TestUnreadCount(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry()
	r := NewRouter(reg, store, allowPair(1, 2))

	for i := 0; i < 3; i++ {
		_, err := r.Deliver(context.Background(), 1, 2, model.KindDirect, "m")
		require.NoError(t, err)
	}

	n, err := r.UnreadCount(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = r.MarkRead(context.Background(), 2, 1)
	require.NoError(t, err)

	n, err = r.UnreadCount(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestHistoryGatedByFriendship(t *testing.T) {
	store := newFakeStore()
	r := NewRouter(NewRegistry(), store, denyAll())

	_, err := r.History(context.Background(), 1, 2, 10, 0)
	assert.ErrorIs(t, err, errs.ErrNotFriends)
}

func TestDeliverAfterReplacementReachesOnlyNewChannel(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry()
	oldCh := &fakeChannel{}
	newCh := &fakeChannel{}

	reg.Register(2, oldCh)
	prev := reg.Register(2, newCh)
	require.NotNil(t, prev)
	prev.Close()

	r := NewRouter(reg, store, allowPair(1, 2))
	_, err := r.Deliver(context.Background(), 1, 2, model.KindDirect, "hi")
	require.NoError(t, err)

	assert.Empty(t, oldCh.received())
	assert.Len(t, newCh.received(), 1)
}
