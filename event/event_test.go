// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

package event

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	testPubkeyA = strings.Repeat("a1", 32)
	testPubkeyB = strings.Repeat("b2", 32)
)

func TestRecipient(t *testing.T) {
	require := require.New(t)

	ev := &RawEvent{
		Kind: KindDirect,
		Tags: [][]string{{"p", testPubkeyA}},
	}
	recipient, err := ev.Recipient()
	require.NoError(err)
	require.Equal(testPubkeyA, recipient)

	// Unrelated tags are skipped.
	ev.Tags = [][]string{{"e", "someevent"}, {"p", testPubkeyB}}
	recipient, err = ev.Recipient()
	require.NoError(err)
	require.Equal(testPubkeyB, recipient)
}

func TestRecipientMissing(t *testing.T) {
	require := require.New(t)

	ev := &RawEvent{Kind: KindDirect}
	_, err := ev.Recipient()
	require.Error(err)

	ev.Tags = [][]string{{"e", "someevent"}}
	_, err = ev.Recipient()
	require.Error(err)
}

func TestRecipientMultiple(t *testing.T) {
	require := require.New(t)

	ev := &RawEvent{
		Kind: KindDirect,
		Tags: [][]string{{"p", testPubkeyA}, {"p", testPubkeyB}},
	}
	_, err := ev.Recipient()
	require.Error(err)
}

func TestRecipientMalformed(t *testing.T) {
	require := require.New(t)

	for _, bad := range []string{"", "nothex", strings.Repeat("a", 63), strings.Repeat("zz", 32)} {
		ev := &RawEvent{Tags: [][]string{{"p", bad}}}
		_, err := ev.Recipient()
		require.Error(err, "recipient %q", bad)
	}
}

func TestTagValue(t *testing.T) {
	require := require.New(t)

	ev := &RawEvent{
		Tags: [][]string{{"e", "first"}, {"p", testPubkeyA}, {"e", "second"}},
	}
	require.Equal("first", ev.TagValue("e"))
	require.Equal(testPubkeyA, ev.TagValue("p"))
	require.Equal("", ev.TagValue("q"))
}

func TestComputeID(t *testing.T) {
	require := require.New(t)

	ev := &RawEvent{
		Pubkey:    testPubkeyA,
		CreatedAt: 1700000000,
		Kind:      KindChat,
		Tags:      [][]string{{"p", testPubkeyB}},
		Content:   "hello",
	}
	id := ComputeID(ev)
	require.Len(id, 64)
	require.Equal(id, ComputeID(ev))

	// Any signable field change must change the id.
	ev2 := *ev
	ev2.Content = "hello!"
	require.NotEqual(id, ComputeID(&ev2))

	ev3 := *ev
	ev3.CreatedAt++
	require.NotEqual(id, ComputeID(&ev3))

	// The id ignores the signature and the id field itself.
	ev4 := *ev
	ev4.ID = "bogus"
	ev4.Sig = "bogus"
	require.Equal(id, ComputeID(&ev4))
}

func TestComputeIDNilTags(t *testing.T) {
	require := require.New(t)

	withNil := &RawEvent{Pubkey: testPubkeyA, Kind: KindChat, Content: "x"}
	withEmpty := &RawEvent{Pubkey: testPubkeyA, Kind: KindChat, Content: "x", Tags: [][]string{}}
	require.Equal(ComputeID(withEmpty), ComputeID(withNil))
}

func TestIsValidPubkey(t *testing.T) {
	require := require.New(t)

	require.True(IsValidPubkey(testPubkeyA))
	require.False(IsValidPubkey(""))
	require.False(IsValidPubkey(strings.Repeat("a", 63)))
	require.False(IsValidPubkey(strings.Repeat("a", 65)))
	require.False(IsValidPubkey(strings.Repeat("zz", 32)))
}

func TestFilterWireShape(t *testing.T) {
	require := require.New(t)

	since := int64(100)
	f := &Filter{
		Kinds: []int{KindWrap},
		P:     []string{testPubkeyA},
		Since: &since,
		Limit: 50,
	}
	raw, err := json.Marshal(f)
	require.NoError(err)

	var m map[string]interface{}
	require.NoError(json.Unmarshal(raw, &m))
	require.Contains(m, "#p")
	require.Contains(m, "kinds")
	require.Contains(m, "since")
	require.Contains(m, "limit")
	require.NotContains(m, "authors")
	require.NotContains(m, "until")
}
