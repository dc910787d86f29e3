package stylist

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/stylist-engine/internal/model"
	"github.com/capitalize-ai/stylist-engine/internal/pipeline"
)

type call struct {
	subject string
	data    []byte
	timeout bool
}

type fakeRequester struct {
	replies map[string]string
	err     error
	calls   []call
}

func (f *fakeRequester) RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	_, hasDeadline := ctx.Deadline()
	f.calls = append(f.calls, call{subject: subj, data: data, timeout: hasDeadline})
	if f.err != nil {
		return nil, f.err
	}
	return &nats.Msg{Subject: subj, Data: []byte(f.replies[subj])}, nil
}

func TestClient_Subject(t *testing.T) {
	assert.Equal(t, "stylist.curate", NewClient(nil, Config{}).Subject(SubjectCurate))
	assert.Equal(t, "acme.remix", NewClient(nil, Config{SubjectPrefix: "acme."}).Subject(SubjectRemix))
}

func TestClient_MatchItems(t *testing.T) {
	req := &fakeRequester{replies: map[string]string{
		"stylist.curate": `{"success":true,"scenario":"remix","outfit_ids":["o1","o2"]}`,
	}}
	c := NewClient(req, Config{Timeout: time.Second})

	res, err := c.MatchItems(context.Background(), "beach wedding", model.UserProfile{UserID: "u1", HasReferencePhoto: true})
	require.NoError(t, err)
	assert.Equal(t, &pipeline.CurationResult{Success: true, Scenario: model.ScenarioRemix, OutfitIDs: []string{"o1", "o2"}}, res)

	require.Len(t, req.calls, 1)
	assert.True(t, req.calls[0].timeout)

	var sent curateRequest
	require.NoError(t, json.Unmarshal(req.calls[0].data, &sent))
	assert.Equal(t, "beach wedding", sent.Occasion)
	assert.Equal(t, "u1", sent.Profile.UserID)
}

func TestClient_NoTimeoutWithoutConfig(t *testing.T) {
	req := &fakeRequester{replies: map[string]string{"stylist.outfits.list": `{"outfits":[]}`}}
	_, err := NewClient(req, Config{}).ListOutfits(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, req.calls[0].timeout)
}

func TestClient_RemoteError(t *testing.T) {
	req := &fakeRequester{replies: map[string]string{"stylist.remix": `{"error":"wardrobe offline"}`}}
	_, err := NewClient(req, Config{}).Remix(context.Background(), "o1", "edgy", "party")

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "stylist.remix", remote.Subject)
	assert.Equal(t, "wardrobe offline", remote.Message)
}

func TestClient_TransportError(t *testing.T) {
	req := &fakeRequester{err: nats.ErrTimeout}
	_, err := NewClient(req, Config{}).ListOutfits(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, nats.ErrTimeout))
}

func TestClient_ListOutfits(t *testing.T) {
	req := &fakeRequester{replies: map[string]string{
		"stylist.outfits.list": `{"outfits":[{"id":"o1","user_id":"u1","occasion":"Summer Party"}]}`,
	}}
	outfits, err := NewClient(req, Config{}).ListOutfits(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, outfits, 1)
	assert.Equal(t, "Summer Party", outfits[0].Occasion)
}

func TestClient_GenerateImage(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantErr string
	}{
		{name: "ready", reply: `{"status":"ready"}`},
		{name: "failed with reason", reply: `{"status":"failed","error":"gpu busy"}`, wantErr: "gpu busy"},
		{name: "unexpected status", reply: `{"status":"queued"}`, wantErr: "status queued"},
		{name: "garbage", reply: `not json`, wantErr: "failed to decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &fakeRequester{replies: map[string]string{"stylist.images.generate": tt.reply}}
			err := NewClient(req, Config{}).GenerateImage(context.Background(), "o1")
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
