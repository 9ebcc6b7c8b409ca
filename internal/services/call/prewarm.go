package call

import (
	"context"
	"fmt"

	"github.com/ClareAI/voice-sell-agent/internal/core/model/provider"
	"github.com/ClareAI/voice-sell-agent/pkg/logger"
	"go.uber.org/zap"
)

// ResourceFactory builds the process-wide speech resources
type ResourceFactory interface {
	CreateVAD() (provider.VAD, error)
	CreateTTS(ctx context.Context) (provider.TTS, error)
}

// Resources are built once per worker process and shared read-only by every call.
// A nil TTS means calls run mute.
type Resources struct {
	VAD provider.VAD
	TTS provider.TTS
}

// Prewarm builds the shared resources. A VAD failure is fatal; a TTS failure is
// logged and leaves TTS nil.
func Prewarm(ctx context.Context, factory ResourceFactory) (*Resources, error) {
	vad, err := factory.CreateVAD()
	if err != nil {
		return nil, fmt.Errorf("failed to load VAD: %w", err)
	}

	res := &Resources{VAD: vad}

	tts, err := factory.CreateTTS(ctx)
	if err != nil {
		logger.Base().Error("Failed to initialize TTS, calls will run without speech", zap.Error(err))
		return res, nil
	}
	res.TTS = tts

	logger.Base().Info("Prewarm complete", zap.Bool("tts_available", res.TTS != nil))
	return res, nil
}
