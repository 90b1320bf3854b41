package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"ephemeral-chat/internal/assistant"
	"ephemeral-chat/internal/metrics"
	"ephemeral-chat/internal/room"
	"ephemeral-chat/internal/types"

	"github.com/rs/zerolog/log"
)

const DefaultAssistantTimeout = 20 * time.Second

// Error texts sent back to the originating connection.
const (
	errRoomNotFound  = "Room not found"
	errUnknownEvent  = "Unknown event type"
	errNotInRoom     = "Join a room first"
	errNothingToDraw = "Nothing to draw yet"
	errImageFailed   = "Image generation failed"
)

// Deliverer fans a payload out to live connections.
type Deliverer interface {
	Deliver(ids []room.ConnID, payload []byte)
}

type Options struct {
	Responder        assistant.Responder
	Imager           assistant.Imager
	SystemPrompt     string
	AssistantTimeout time.Duration
	Metrics          *metrics.Metrics
}

// Router runs the per-connection event handlers against the registry and
// fans results out through a Deliverer.
type Router struct {
	registry  *room.Registry
	tracker   *Tracker
	out       Deliverer
	responder assistant.Responder
	imager    assistant.Imager
	system    string
	timeout   time.Duration
	metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewRouter(registry *room.Registry, tracker *Tracker, out Deliverer, opts Options) *Router {
	if opts.Responder == nil {
		opts.Responder = assistant.Echo{}
	}
	if opts.Imager == nil {
		opts.Imager = assistant.Echo{}
	}
	if opts.AssistantTimeout <= 0 {
		opts.AssistantTimeout = DefaultAssistantTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if tracker == nil {
		tracker = NewTracker()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		registry:  registry,
		tracker:   tracker,
		out:       out,
		responder: opts.Responder,
		imager:    opts.Imager,
		system:    opts.SystemPrompt,
		timeout:   opts.AssistantTimeout,
		metrics:   opts.Metrics,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (r *Router) Handle(ctx context.Context, conn room.ConnID, env types.Envelope) {
	switch env.Type {
	case types.TypeCreate:
		r.onCreate(conn)
	case types.TypeJoin:
		r.onJoin(conn, env.RoomID, env.UserName)
	case types.TypeMessage:
		r.onSend(conn, env.Content)
	case types.TypeGenerateImage:
		r.onGenerateImage(ctx, conn, env.Prompt)
	default:
		log.Debug().Str("conn", conn.String()).Str("type", string(env.Type)).Msg("[ROUTER] unknown event type")
		r.sendTo(conn, types.NewError(errUnknownEvent))
	}
}

func (r *Router) onCreate(conn room.ConnID) {
	rm, name := r.registry.CreateFor(conn)
	r.leaveCurrent(conn)
	r.tracker.Bind(conn, rm.Code(), name)
	r.observeRooms()

	log.Info().Str("room", rm.Code()).Str("conn", conn.String()).Str("user", name).Msg("[ROUTER] room created")
	r.sendTo(conn, types.NewCreated(rm.Code(), name))
}

func (r *Router) onJoin(conn room.ConnID, roomID, requestedName string) {
	code := room.NormalizeCode(roomID)

	if current, ok := r.tracker.ResolveRoom(conn); ok && current == code {
		if rm, err := r.registry.Lookup(code); err == nil {
			r.sendJoined(conn, rm, r.tracker.ResolveName(conn, code))
			return
		}
	}

	rm, name, err := r.registry.Join(code, conn, requestedName)
	if err != nil {
		r.metrics.JoinFailures.Inc()
		log.Info().Err(err).Str("room", code).Str("conn", conn.String()).Msg("[ROUTER] join against unknown room")
		r.sendTo(conn, types.NewError(errRoomNotFound))
		return
	}
	r.leaveCurrent(conn)
	r.tracker.Bind(conn, rm.Code(), name)
	r.observeRooms()

	log.Info().Str("room", rm.Code()).Str("conn", conn.String()).Str("user", name).Msg("[ROUTER] joined room")
	r.sendJoined(conn, rm, name)
}

func (r *Router) sendJoined(conn room.ConnID, rm *room.Room, name string) {
	if history := rm.History(); len(history) > 0 {
		entries := make([]types.HistoryEntry, len(history))
		for i, m := range history {
			entries[i] = types.HistoryEntry{Content: m.Content, Sender: m.Sender, Timestamp: m.Timestamp}
		}
		r.sendTo(conn, types.History{Type: types.TypeHistory, Messages: entries})
	}
	r.sendTo(conn, types.NewJoined(rm.Code(), name))
}

// leaveCurrent takes conn out of whatever room it was bound to.
func (r *Router) leaveCurrent(conn room.ConnID) {
	code, name, ok := r.tracker.Unbind(conn)
	if !ok {
		return
	}
	if r.registry.Leave(code, conn, name) {
		log.Info().Str("room", code).Msg("[ROUTER] last participant left, room destroyed")
	}
}

func (r *Router) onSend(conn room.ConnID, content string) {
	code, ok := r.tracker.ResolveRoom(conn)
	if !ok {
		log.Debug().Str("conn", conn.String()).Msg("[ROUTER] message from connection outside any room ignored")
		return
	}
	rm, err := r.registry.Lookup(code)
	if err != nil {
		return
	}

	p := rm.Post(conn, r.tracker.ResolveName(conn, code), content)
	r.metrics.MessagesTotal.Inc()
	r.deliver(p.Peers, types.NewMessage(p.Message.Content, p.Message.Sender, p.Message.Timestamp))
	r.registry.Touch(code)

	if p.Reply {
		r.async(func(ctx context.Context) { r.assistantReply(ctx, rm, p) })
	}
}

func (r *Router) assistantReply(ctx context.Context, rm *room.Room, p room.Posted) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	text, err := r.responder.Reply(ctx, assistant.Request{
		System:  r.system,
		Context: p.Context,
		Prompt:  p.Prompt,
	})
	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, assistant.ErrNoReply) {
			outcome = metrics.OutcomeEmpty
		}
		r.metrics.AssistantReplies.WithLabelValues(outcome).Inc()
		log.Warn().Err(err).Str("room", rm.Code()).Msg("[ASSISTANT] reply omitted")
		return
	}

	// The room may have emptied while the model was thinking.
	if current, err := r.registry.Lookup(rm.Code()); err != nil || current != rm {
		r.metrics.AssistantReplies.WithLabelValues(metrics.OutcomeDropped).Inc()
		return
	}

	msg, to := rm.PostAssistant(text)
	r.deliver(to, types.NewMessage(msg.Content, msg.Sender, msg.Timestamp))
	r.registry.Touch(rm.Code())
	r.metrics.AssistantReplies.WithLabelValues(metrics.OutcomeOK).Inc()
}

func (r *Router) onGenerateImage(ctx context.Context, conn room.ConnID, explicit string) {
	code, ok := r.tracker.ResolveRoom(conn)
	if !ok {
		r.sendTo(conn, types.NewError(errNotInRoom))
		return
	}
	rm, err := r.registry.Lookup(code)
	if err != nil {
		r.sendTo(conn, types.NewError(errRoomNotFound))
		return
	}

	history := rm.History()
	if len(history) > room.DefaultContextTurns {
		history = history[len(history)-room.DefaultContextTurns:]
	}
	prompt := assistant.ImagePrompt(explicit, history)
	if prompt == "" {
		r.sendTo(conn, types.NewError(errNothingToDraw))
		return
	}

	r.async(func(base context.Context) {
		// Cancelled by either the requester going away or shutdown.
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		stop := context.AfterFunc(base, cancel)
		defer stop()

		img, err := r.imager.Generate(ctx, prompt)
		if err != nil {
			r.metrics.ImagesTotal.WithLabelValues(metrics.OutcomeError).Inc()
			log.Warn().Err(err).Str("room", code).Str("conn", conn.String()).Msg("[ASSISTANT] image generation failed")
			r.sendTo(conn, types.NewError(errImageFailed))
			return
		}
		r.metrics.ImagesTotal.WithLabelValues(metrics.OutcomeOK).Inc()
		r.sendTo(conn, types.NewImageGenerated(base64.StdEncoding.EncodeToString(img)))
	})
}

// Disconnect removes conn from its room, destroying the room if it was the
// last participant.
func (r *Router) Disconnect(conn room.ConnID) {
	code, name, ok := r.tracker.Unbind(conn)
	if !ok {
		return
	}
	destroyed := r.registry.Leave(code, conn, name)
	r.observeRooms()
	log.Info().Str("room", code).Str("conn", conn.String()).Bool("destroyed", destroyed).Msg("[ROUTER] participant disconnected")
}

func (r *Router) observeRooms() {
	r.metrics.RoomsActive.Set(float64(r.registry.Len()))
}

func (r *Router) async(fn func(ctx context.Context)) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		fn(r.ctx)
	}()
}

// Wait blocks until every in-flight assistant or image call has finished.
func (r *Router) Wait() { r.wg.Wait() }

// Close cancels in-flight external calls and waits for them to return.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}

func (r *Router) sendTo(conn room.ConnID, v any) {
	r.deliver([]room.ConnID{conn}, v)
}

func (r *Router) deliver(ids []room.ConnID, v any) {
	if len(ids) == 0 {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("[ROUTER] failed to encode outbound event")
		return
	}
	r.out.Deliver(ids, payload)
}
