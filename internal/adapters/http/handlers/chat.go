package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mira-ai/mira/internal/adapters/http/middleware"
	"github.com/mira-ai/mira/internal/application/usecases"
	"github.com/mira-ai/mira/internal/domain/models"
	"github.com/mira-ai/mira/internal/llm"
)

const maxDocumentBytes = 10 * 1024 * 1024

var allowedDocumentTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
}

// TurnRunner executes one conversational turn.
type TurnRunner interface {
	Execute(ctx context.Context, input *usecases.ProcessMessageInput) (*usecases.ProcessMessageOutput, error)
}

type ChatHandler struct {
	turns       TurnRunner
	broadcaster *Broadcaster
	logger      *slog.Logger
}

func NewChatHandler(turns TurnRunner, broadcaster *Broadcaster, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		turns:       turns,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

type chatRequest struct {
	Message      string `json:"message"`
	Image        string `json:"image,omitempty"`
	ImageType    string `json:"image_type,omitempty"`
	Document     string `json:"document,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
	Stream       bool   `json:"stream,omitempty"`
}

type chatResponse struct {
	ContinuumID string       `json:"continuum_id"`
	Response    string       `json:"response"`
	Emotion     string       `json:"emotion,omitempty"`
	Metadata    chatMetadata `json:"metadata"`
	Usage       llm.Usage    `json:"usage"`
}

type chatMetadata struct {
	ToolsUsed          []string `json:"tools_used"`
	ReferencedMemories []string `json:"referenced_memories"`
	SurfacedMemories   []string `json:"surfaced_memories"`
	ProcessingTimeMs   int64    `json:"processing_time_ms"`
}

// Handle serves POST /api/v1/chat. The body is either JSON or multipart form
// data; with stream=true the response is an SSE stream of turn events,
// otherwise the final message as one envelope.
func (h *ChatHandler) Handle(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		respondError(w, CodeValidationError, "user identity missing", http.StatusBadRequest)
		return
	}

	input, stream, ok := h.parseRequest(w, r, userID)
	if !ok {
		return
	}

	if stream {
		h.handleStreaming(w, r, input)
		return
	}

	if h.broadcaster != nil {
		input.OnEvent = func(ev llm.StreamEvent) {
			h.broadcaster.Publish(input.UserID, ev)
		}
	}

	out, err := h.turns.Execute(r.Context(), input)
	if err != nil {
		h.logger.Error("turn failed", "user_id", userID, "error", err)
		respondDomainError(w, err)
		return
	}

	respondSuccess(w, buildChatResponse(out), http.StatusOK)
}

func (h *ChatHandler) handleStreaming(w http.ResponseWriter, r *http.Request, input *usecases.ProcessMessageInput) {
	sse, err := newSSEWriter(w)
	if err != nil {
		respondError(w, CodeInternalError, "streaming not supported", http.StatusInternalServerError)
		return
	}

	input.OnEvent = func(ev llm.StreamEvent) {
		sse.SendEvent(ev)
		if h.broadcaster != nil {
			h.broadcaster.Publish(input.UserID, ev)
		}
	}

	// The terminal event reaches the client through the stream; an error
	// here has already been emitted as an ErrorEvent.
	if _, err := h.turns.Execute(r.Context(), input); err != nil {
		h.logger.Error("streaming turn failed", "user_id", input.UserID, "error", err)
	}
}

func (h *ChatHandler) parseRequest(w http.ResponseWriter, r *http.Request, userID string) (*usecases.ProcessMessageInput, bool, bool) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		return h.parseMultipart(w, r, userID)
	}
	return h.parseJSON(w, r, userID)
}

func (h *ChatHandler) parseJSON(w http.ResponseWriter, r *http.Request, userID string) (*usecases.ProcessMessageInput, bool, bool) {
	req, ok := decodeJSON[chatRequest](r, w)
	if !ok {
		return nil, false, false
	}

	input := &usecases.ProcessMessageInput{
		UserID: userID,
		Text:   req.Message,
	}

	if req.Image != "" {
		pair, err := transcodeBase64Image(req.Image, req.ImageType)
		if err != nil {
			respondError(w, CodeValidationError, err.Error(), http.StatusBadRequest)
			return nil, false, false
		}
		appendImagePair(input, req.Message, pair)
	}

	if req.Document != "" {
		block, err := documentBlock(req.Document, req.DocumentType)
		if err != nil {
			respondError(w, CodeValidationError, err.Error(), http.StatusBadRequest)
			return nil, false, false
		}
		ensureTextBlocks(input, req.Message)
		input.Blocks = append(input.Blocks, block)
		input.StorageBlocks = append(input.StorageBlocks, block)
	}

	return input, req.Stream, true
}

func (h *ChatHandler) parseMultipart(w http.ResponseWriter, r *http.Request, userID string) (*usecases.ProcessMessageInput, bool, bool) {
	if err := r.ParseMultipartForm(2 * maxImageBytes); err != nil {
		respondError(w, CodeValidationError, "invalid multipart body", http.StatusBadRequest)
		return nil, false, false
	}

	message := r.FormValue("message")
	stream := r.FormValue("stream") == "true"

	input := &usecases.ProcessMessageInput{
		UserID: userID,
		Text:   message,
	}

	files := r.MultipartForm.File["images"]
	for _, fh := range files {
		if fh.Size > maxImageBytes {
			respondError(w, CodeValidationError, "image exceeds size limit", http.StatusBadRequest)
			return nil, false, false
		}

		f, err := fh.Open()
		if err != nil {
			respondError(w, CodeInternalError, "failed to read upload", http.StatusInternalServerError)
			return nil, false, false
		}
		data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
		f.Close()
		if err != nil || len(data) > maxImageBytes {
			respondError(w, CodeValidationError, "image exceeds size limit", http.StatusBadRequest)
			return nil, false, false
		}

		pair, err := transcodeImage(data, fh.Header.Get("Content-Type"))
		if err != nil {
			respondError(w, CodeValidationError, err.Error(), http.StatusBadRequest)
			return nil, false, false
		}
		appendImagePair(input, message, pair)
	}

	return input, stream, true
}

func appendImagePair(input *usecases.ProcessMessageInput, message string, pair *imagePair) {
	ensureTextBlocks(input, message)
	input.Blocks = append(input.Blocks, pair.Inference)
	input.StorageBlocks = append(input.StorageBlocks, pair.Storage)
}

// ensureTextBlocks seeds both block lists with the text content the first
// time an attachment forces explicit blocks.
func ensureTextBlocks(input *usecases.ProcessMessageInput, message string) {
	if len(input.Blocks) == 0 && message != "" {
		input.Blocks = append(input.Blocks, models.TextBlock(message))
		input.StorageBlocks = append(input.StorageBlocks, models.TextBlock(message))
	}
}

func buildChatResponse(out *usecases.ProcessMessageOutput) chatResponse {
	return chatResponse{
		ContinuumID: out.ContinuumID,
		Response:    out.Response,
		Emotion:     out.Emotion,
		Metadata: chatMetadata{
			ToolsUsed:          emptyIfNil(out.ToolsUsed),
			ReferencedMemories: emptyIfNil(out.ReferencedMemories),
			SurfacedMemories:   emptyIfNil(out.SurfacedMemories),
			ProcessingTimeMs:   out.ProcessingTime.Milliseconds(),
		},
		Usage: out.Usage,
	}
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
