package core

import (
	"testing"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestLedgerMembers(t *testing.T) {
	l := NewLedger()
	m, created := l.AddMember("s1")
	require.True(t, created)
	again, created := l.AddMember("s1")
	require.False(t, created)
	require.Same(t, m, again)

	l.AddMember("s0")
	require.Equal(t, []SessionID{"s0", "s1"}, l.MemberIDs())

	l.RemoveMember("s1")
	_, ok := l.Member("s1")
	require.False(t, ok)
	require.Equal(t, 1, l.MemberCount())
}

func TestLedgerTracksOwnedIDs(t *testing.T) {
	l := NewLedger()
	m, _ := l.AddMember("s1")
	l.AddTransport(&TransportEntry{ID: "t1", Owner: "s1"})
	l.AddProducer(&ProducerEntry{ID: "p1", Owner: "s1", TransportID: "t1", Kind: domain.MediaKindAudio})
	l.AddProducer(&ProducerEntry{ID: "p2", Owner: "s1", TransportID: "t1", Kind: domain.MediaKindVideo})

	require.Equal(t, []string{"t1"}, m.TransportIDs)
	require.Equal(t, []string{"p1", "p2"}, m.ProducerIDs)

	// removal does not rewrite the member record
	_, ok := l.RemoveProducer("p1")
	require.True(t, ok)
	require.Equal(t, []string{"p1", "p2"}, m.ProducerIDs)
	_, ok = l.RemoveProducer("p1")
	require.False(t, ok)
}

func TestLedgerProducerIDsOn(t *testing.T) {
	l := NewLedger()
	l.AddMember("s1")
	l.AddProducer(&ProducerEntry{ID: "pb", Owner: "s1", TransportID: "t1", Kind: domain.MediaKindVideo})
	l.AddProducer(&ProducerEntry{ID: "px", Owner: "s1", TransportID: "t2", Kind: domain.MediaKindAudio})
	l.AddProducer(&ProducerEntry{ID: "pa", Owner: "s1", TransportID: "t1", Kind: domain.MediaKindAudio})

	require.Equal(t, []string{"pb", "pa"}, l.ProducerIDsOn("t1"))
	require.Equal(t, []string{"px"}, l.ProducerIDsOn("t2"))
	require.Empty(t, l.ProducerIDsOn("t3"))
}

func TestLedgerProducersOrderAndExclusion(t *testing.T) {
	l := NewLedger()
	l.AddMember("a")
	l.AddMember("b")
	l.AddProducer(&ProducerEntry{ID: "z", Owner: "a", Kind: domain.MediaKindAudio})
	l.AddProducer(&ProducerEntry{ID: "y", Owner: "b", Kind: domain.MediaKindVideo})
	l.AddProducer(&ProducerEntry{ID: "x", Owner: "a", Kind: domain.MediaKindVideo})

	all := l.Producers("")
	require.Len(t, all, 3)
	require.Equal(t, "z", all[0].ProducerID)
	require.Equal(t, "y", all[1].ProducerID)
	require.Equal(t, "x", all[2].ProducerID)

	notA := l.Producers("a")
	require.Equal(t, []ProducerInfo{{ProducerID: "y", Kind: domain.MediaKindVideo, OwnerSessionID: "b"}}, notA)
}

func TestLedgerConsumerIndex(t *testing.T) {
	l := NewLedger()
	l.AddConsumer(&ConsumerEntry{ID: "c2", Owner: "b", ProducerID: "p1", TransportID: "tb"})
	l.AddConsumer(&ConsumerEntry{ID: "c1", Owner: "c", ProducerID: "p1", TransportID: "tc"})
	l.AddConsumer(&ConsumerEntry{ID: "c3", Owner: "c", ProducerID: "p2", TransportID: "tc"})

	linked := l.ConsumersOf("p1")
	require.Len(t, linked, 2)
	require.Equal(t, "c1", linked[0].ID)
	require.Equal(t, "c2", linked[1].ID)

	_, ok := l.RemoveConsumer("c1")
	require.True(t, ok)
	require.Len(t, l.ConsumersOf("p1"), 1)

	_, ok = l.RemoveConsumer("c2")
	require.True(t, ok)
	require.Empty(t, l.ConsumersOf("p1"))
	require.NotContains(t, l.consumersOf, "p1")

	onTC := l.ConsumersWhere(func(c *ConsumerEntry) bool { return c.TransportID == "tc" })
	require.Len(t, onTC, 1)
	require.Equal(t, "c3", onTC[0].ID)

	tr, pr, co := l.Counts()
	require.Equal(t, 0, tr)
	require.Equal(t, 0, pr)
	require.Equal(t, 1, co)
}
