package provider

import (
	"context"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
)

// Dependency names used for breakers, metrics and health output.
const (
	DepSpeech = "speech"
	DepAI     = "ai"
	DepCall   = "call-automation"
	DepBlob   = "blob-storage"
)

// Message is one turn of an AI completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AIClient talks to the AI completion provider.
type AIClient interface {
	// Complete returns the full completion for the conversation.
	Complete(ctx context.Context, messages []Message) (string, error)

	// CompleteStream invokes onChunk for each text chunk as it arrives.
	CompleteStream(ctx context.Context, messages []Message, onChunk func(chunk string) error) error
}

// RecognitionStream is a live audio push stream to the speech provider.
// PushAudio sends raw audio; recognized text arrives on Events. The stream
// is owned by exactly one session worker.
type RecognitionStream interface {
	PushAudio(ctx context.Context, chunk []byte) error
	Events() <-chan domain.RecognizedSpeech
	Errs() <-chan error
	Close() error
}

// SpeechClient talks to the speech recognition/synthesis provider.
type SpeechClient interface {
	OpenRecognitionStream(ctx context.Context, sessionID string) (RecognitionStream, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// CallClient talks to the call-automation/telephony provider.
type CallClient interface {
	CreateCall(ctx context.Context, target, callbackURL string) (callConnectionID string, err error)
	HangUp(ctx context.Context, callConnectionID string) error

	StartRecording(ctx context.Context, callConnectionID string) (recordingID string, err error)
	StopRecording(ctx context.Context, recordingID string) error
	PauseRecording(ctx context.Context, recordingID string) error
	ResumeRecording(ctx context.Context, recordingID string) error

	DownloadRecording(ctx context.Context, recordingID string) ([]byte, error)
}

// BlobClient talks to blob storage for recording archival.
type BlobClient interface {
	Upload(ctx context.Context, name string, data []byte) (url string, err error)
	Download(ctx context.Context, name string) ([]byte, error)
}

// Clients bundles the process-wide provider singletons. Constructed once at
// startup and passed by reference; never ambient globals.
type Clients struct {
	Speech SpeechClient
	AI     AIClient
	Call   CallClient
	Blob   BlobClient
}
