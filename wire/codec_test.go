package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allKindSamples() []Message {
	return []Message{
		{Kind: KindEstablishRequest, Identity: &Identity{PeerID: "1000", Name: "server", Role: RoleService}},
		{Kind: KindEstablishResponse, Identity: &Identity{PeerID: "2000", Name: "alice", Role: RoleUser}},
		{Kind: KindSyncRequest, DocID: "d1", RequesterVersion: []byte{1}, Bidirectional: true},
		{Kind: KindSyncResponse, DocID: "d1", Transmission: &Transmission{Kind: TransmissionSnapshot, Data: []byte("snap"), Version: []byte{1, 2}}},
		{Kind: KindUpdate, DocID: "d1", Transmission: &Transmission{Kind: TransmissionUpdate, Data: []byte("delta"), Version: []byte{3}}},
		{Kind: KindNewDoc, DocIDs: []string{"d1", "d2"}},
		{Kind: KindDirectoryRequest, DocIDs: []string{"d1"}},
		{Kind: KindDirectoryResponse, DocIDs: []string{"d1", "d2"}},
		{Kind: KindDeleteRequest, DocID: "d3"},
		{Kind: KindDeleteResponse, DocID: "d3", DeleteStatus: DeleteStatusDeleted},
		{Kind: KindEphemeral, DocID: "d1", HopsRemaining: 2, Stores: []EphemeralEntry{{PeerID: "2000", Namespace: "presence", Data: []byte("x")}}},
	}
}

// TestWireRoundTrip verifies decode(encode(m)) == m for every non-batch
// message kind; batch frames are covered by TestBatchIdempotence and
// TestBatchSplitsMultipleMessages.
func TestWireRoundTrip(t *testing.T) {
	for _, m := range allKindSamples() {
		m := m
		t.Run(m.Kind.String(), func(t *testing.T) {
			frame, err := EncodeFrame(m)
			require.NoError(t, err)

			got, err := DecodeFrame(frame, 0)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, m, got[0])
		})
	}
}

// TestBatchIdempotence verifies that a single-element batch decodes
// equivalently to that element alone.
func TestBatchIdempotence(t *testing.T) {
	m := Message{Kind: KindSyncRequest, DocID: "d1", Bidirectional: true}

	single, err := EncodeFrame(m)
	require.NoError(t, err)
	got, err := DecodeFrame(single, 0)
	require.NoError(t, err)
	assert.Equal(t, []Message{m}, got)

	batched, err := EncodeBatchFrame([]Message{m})
	require.NoError(t, err)
	got, err = DecodeFrame(batched, 0)
	require.NoError(t, err)
	assert.Equal(t, []Message{m}, got)
}

func TestDecodeFrameRejectsUnknownVersion(t *testing.T) {
	frame, err := EncodeFrame(Message{Kind: KindDirectoryRequest})
	require.NoError(t, err)
	frame[0] = 0xFF

	_, err = DecodeFrame(frame, 0)
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestDecodeFrameRejectsTruncatedHeader(t *testing.T) {
	_, err := DecodeFrame([]byte{1, 0, 0}, 0)
	assert.ErrorIs(t, err, ErrHeaderTruncated)
}

func TestDecodeFrameRejectsTruncatedPayload(t *testing.T) {
	frame, err := EncodeFrame(Message{Kind: KindDirectoryRequest})
	require.NoError(t, err)

	_, err = DecodeFrame(frame[:len(frame)-1], 0)
	assert.ErrorIs(t, err, ErrPayloadTruncated)
}

func TestDecodeFrameRejectsOversizedPayload(t *testing.T) {
	frame, err := EncodeFrame(Message{Kind: KindSyncRequest, DocID: "d1"})
	require.NoError(t, err)

	_, err = DecodeFrame(frame, 4)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

// TestDecodeFrameAcceptsNamedByteSlice exercises the generic rawBytes
// constraint standing in for a subclassed byte-array buffer.
func TestDecodeFrameAcceptsNamedByteSlice(t *testing.T) {
	type namedBytes []byte

	frame, err := EncodeFrame(Message{Kind: KindDirectoryRequest})
	require.NoError(t, err)

	got, err := DecodeFrame(namedBytes(frame), 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestBatchSplitsMultipleMessages(t *testing.T) {
	msgs := []Message{
		{Kind: KindSyncRequest, DocID: "d1"},
		{Kind: KindDirectoryRequest},
		{Kind: KindDeleteRequest, DocID: "d2"},
	}
	frame, err := EncodeBatchFrame(msgs)
	require.NoError(t, err)

	got, err := DecodeFrame(frame, 0)
	require.NoError(t, err)
	assert.Equal(t, msgs, got)
}

func TestIsBatchable(t *testing.T) {
	assert.False(t, KindEstablishRequest.IsBatchable())
	assert.False(t, KindEstablishResponse.IsBatchable())
	assert.False(t, KindBatch.IsBatchable())
	assert.True(t, KindSyncRequest.IsBatchable())
	assert.True(t, KindEphemeral.IsBatchable())
}
