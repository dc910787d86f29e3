package stylist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/stylist-engine/internal/model"
	"github.com/capitalize-ai/stylist-engine/internal/pipeline"
	"github.com/capitalize-ai/stylist-engine/pkg/logger"
)

// Backend is everything a stylist responder serves.
type Backend interface {
	pipeline.Curator
	pipeline.Remixer
	pipeline.Wardrobe
	pipeline.ImageGenerator
}

// Serve answers collaborator requests on conn with backend. Callers stop it by
// unsubscribing the returned subscriptions.
func Serve(conn *nats.Conn, prefix string, backend Backend, log *logger.Logger) ([]*nats.Subscription, error) {
	c := NewClient(nil, Config{SubjectPrefix: prefix})

	handlers := map[string]func(ctx context.Context, data []byte) (any, error){
		SubjectCurate: func(ctx context.Context, data []byte) (any, error) {
			var req curateRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return nil, err
			}
			return backend.MatchItems(ctx, req.Occasion, req.Profile)
		},
		SubjectRemix: func(ctx context.Context, data []byte) (any, error) {
			var req remixRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return nil, err
			}
			return backend.Remix(ctx, req.SourceOutfitID, req.Twist, req.Occasion)
		},
		SubjectListOutfits: func(ctx context.Context, data []byte) (any, error) {
			var req listOutfitsRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return nil, err
			}
			outfits, err := backend.ListOutfits(ctx, req.UserID)
			if err != nil {
				return nil, err
			}
			return listOutfitsReply{Outfits: outfits}, nil
		},
		SubjectGenerate: func(ctx context.Context, data []byte) (any, error) {
			var req generateRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return nil, err
			}
			if err := backend.GenerateImage(ctx, req.OutfitID); err != nil {
				return generateReply{Status: model.ImageFailed, Error: err.Error()}, nil
			}
			return generateReply{Status: model.ImageReady}, nil
		},
	}

	var subs []*nats.Subscription
	for suffix, handle := range handlers {
		subject := c.Subject(suffix)
		handle := handle
		sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
			respond(msg, subject, handle, log)
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}

	log.Info("stylist responder listening", zap.String("prefix", c.prefix))
	return subs, nil
}

func respond(msg *nats.Msg, subject string, handle func(context.Context, []byte) (any, error), log *logger.Logger) {
	reply, err := handle(context.Background(), msg.Data)
	if err != nil {
		log.Warn("stylist request failed", zap.String("subject", subject), zap.Error(err))
		reply = errorReply{Error: err.Error()}
	}

	data, err := json.Marshal(reply)
	if err != nil {
		data, _ = json.Marshal(errorReply{Error: "failed to encode reply"})
	}

	if err := msg.Respond(data); err != nil {
		log.Warn("failed to respond", zap.String("subject", subject), zap.Error(err))
	}
}
