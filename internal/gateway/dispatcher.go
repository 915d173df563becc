// Package gateway connects the messaging transport to the domain services:
// it resolves inbound destinations, runs chat commands and drives the
// registration and presence side-effects. The transport itself stays
// external behind the Sink interface.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/wallet-gateway/internal/config"
	gwerrors "github.com/wallet-gateway/internal/errors"
	"github.com/wallet-gateway/internal/logging"
	"github.com/wallet-gateway/internal/service"
	"github.com/wallet-gateway/internal/types"
)

// Event is one inbound stanza from the messaging transport, already reduced
// to the fields the gateway cares about.
type Event struct {
	ID       string
	Type     types.EventType
	From     types.Identity
	To       types.Identifier
	Body     string
	Presence types.PresenceType
	// Username is the requested username on registration events.
	Username string
}

// Sink is the outbound side of the messaging transport.
type Sink interface {
	SendMessage(ctx context.Context, to types.Identity, from types.Identifier, body string) error
	SendPresence(ctx context.Context, to types.Identity, from types.Identifier, presence types.PresenceType, status string) error
}

// Dispatcher routes inbound events to the domain services. One event is
// handled per call; callers may invoke Handle concurrently for different
// users as long as each user's events arrive in order.
type Dispatcher struct {
	cfg      *config.GatewayConfig
	accounts *service.AccountService
	resolver *service.Resolver
	commands *service.CommandService
	sink     Sink

	mu       sync.Mutex
	limiters map[types.Identity]*rate.Limiter
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	cfg *config.GatewayConfig,
	accounts *service.AccountService,
	resolver *service.Resolver,
	commands *service.CommandService,
	sink Sink,
) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		accounts: accounts,
		resolver: resolver,
		commands: commands,
		sink:     sink,
		limiters: make(map[types.Identity]*rate.Limiter),
	}
}

// Handle processes one inbound event. It never panics outward: one bad
// stanza must not take down the dispatch loop.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"event_id":   ev.ID,
		"event_type": string(ev.Type),
		"from":       string(ev.From.Bare()),
	})
	ctx = logging.WithLogger(ctx, log)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprintf("%v", r)).Error("recovered from panic while handling event")
			d.reply(ctx, ev, "Something went wrong. Please try again later.")
		}
	}()

	switch ev.Type {
	case types.EventMessage:
		d.handleMessage(ctx, ev)
	case types.EventPresence:
		d.handlePresence(ctx, ev)
	case types.EventRegister:
		d.OnRegister(ctx, ev.From, ev.Username)
	case types.EventUnregister:
		d.OnUnregister(ctx, ev.From)
	default:
		log.Warn("ignoring event of unknown type")
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, ev Event) {
	if !d.limiter(ev.From.Bare()).Allow() {
		d.reply(ctx, ev, "You are sending commands too fast. Give me a moment.")
		return
	}

	sender := d.accounts.LookupOrCreate(ev.From)

	target, err := d.resolver.Resolve(ctx, ev.To, sender)
	if err != nil {
		// Only identifier malformation escapes resolution.
		d.reply(ctx, ev, gwerrors.UserMessage(err))
		return
	}

	reply, err := d.commands.Execute(ctx, sender, target, ev.Body)
	if err != nil {
		d.replyError(ctx, ev, err)
		return
	}
	if reply != "" {
		d.reply(ctx, ev, reply)
	}
}

func (d *Dispatcher) handlePresence(ctx context.Context, ev Event) {
	resource := resourceOf(ev.From)
	switch ev.Presence {
	case types.PresenceAvailable:
		d.OnUserConnects(ctx, ev.From, resource)
	case types.PresenceUnavailable:
		d.OnUserDisconnects(ctx, ev.From, resource)
	case types.PresenceProbe:
		d.sendBalancePresence(ctx, ev.From)
	}
}

// OnUserConnects records a new session and answers with the gateway's
// presence, carrying the current balance as status text.
func (d *Dispatcher) OnUserConnects(ctx context.Context, identity types.Identity, resource string) {
	u := d.accounts.LookupOrCreate(identity)
	u.AddResource(resource)

	registered, err := d.accounts.IsRegistered(ctx, u)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("registration check on connect failed")
		return
	}
	if registered {
		d.sendBalancePresence(ctx, identity)
	}
}

// OnUserDisconnects drops a session resource.
func (d *Dispatcher) OnUserDisconnects(ctx context.Context, identity types.Identity, resource string) {
	u := d.accounts.LookupOrCreate(identity)
	remaining := u.RemoveResource(resource)
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"identity":  string(identity.Bare()),
		"remaining": remaining,
	}).Debug("session resource went offline")
}

// OnRegister registers an identity, optionally claiming a username, and
// welcomes the new user.
func (d *Dispatcher) OnRegister(ctx context.Context, identity types.Identity, username string) {
	u := d.accounts.LookupOrCreate(identity)

	if err := d.accounts.Register(ctx, u, username); err != nil {
		d.sendFromGateway(ctx, identity, gwerrors.UserMessage(err))
		if !gwerrors.IsUserError(err) {
			logging.FromContext(ctx).WithError(err).Error("registration failed")
		}
		return
	}

	d.sendFromGateway(ctx, identity,
		"Welcome! Send \"help\" to see what you can do. Your wallet addresses appear in your contact list as you create them.")
	d.sendBalancePresence(ctx, identity)
}

// OnUnregister removes an identity's registration.
func (d *Dispatcher) OnUnregister(ctx context.Context, identity types.Identity) {
	u := d.accounts.LookupOrCreate(identity)

	if err := d.accounts.Unregister(ctx, u); err != nil {
		d.sendFromGateway(ctx, identity, gwerrors.UserMessage(err))
		if !gwerrors.IsUserError(err) {
			logging.FromContext(ctx).WithError(err).Error("unregistration failed")
		}
		return
	}

	if err := d.sink.SendPresence(ctx, identity.Bare(), types.Identifier(d.cfg.Identity), types.PresenceUnavailable, ""); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("failed to send unregistration presence")
	}
}

// NotifyBalance pushes the gateway presence with the current balance as
// status text. Used on connect, on probes and by the balance watcher.
func (d *Dispatcher) NotifyBalance(ctx context.Context, identity types.Identity, balance types.Amount) {
	status := fmt.Sprintf("Balance: %d", balance)
	if err := d.sink.SendPresence(ctx, identity.Bare(), types.Identifier(d.cfg.Identity), types.PresenceAvailable, status); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("failed to send balance presence")
	}
}

func (d *Dispatcher) sendBalancePresence(ctx context.Context, identity types.Identity) {
	u := d.accounts.LookupOrCreate(identity)
	balance, err := d.accounts.Balance(ctx, u)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("balance lookup for presence failed")
		return
	}
	d.NotifyBalance(ctx, identity, balance)
}

// replyError converts an error into reply text, logging backend and internal
// failures at higher severity than user mistakes.
func (d *Dispatcher) replyError(ctx context.Context, ev Event, err error) {
	log := logging.FromContext(ctx).WithError(err)
	if gwErr := gwerrors.Categorize(err); gwErr != nil && gwErr.Category == gwerrors.CategoryBackend {
		log.Error("command failed against the wallet backend")
	} else if !gwerrors.IsUserError(err) {
		log.Error("command failed unexpectedly")
	} else {
		log.Debug("command rejected")
	}
	d.reply(ctx, ev, gwerrors.UserMessage(err))
}

// reply answers an event from the identifier it was addressed to.
func (d *Dispatcher) reply(ctx context.Context, ev Event, body string) {
	if err := d.sink.SendMessage(ctx, ev.From, ev.To, body); err != nil {
		logging.FromContext(ctx).WithError(err).Error("failed to send reply")
	}
}

func (d *Dispatcher) sendFromGateway(ctx context.Context, to types.Identity, body string) {
	if err := d.sink.SendMessage(ctx, to.Bare(), types.Identifier(d.cfg.Identity), body); err != nil {
		logging.FromContext(ctx).WithError(err).Error("failed to send gateway message")
	}
}

func (d *Dispatcher) limiter(identity types.Identity) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[identity]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.cfg.CommandRate), d.cfg.CommandBurst)
		d.limiters[identity] = l
	}
	return l
}

func resourceOf(identity types.Identity) string {
	for n := 0; n < len(identity); n++ {
		if identity[n] == '/' {
			return string(identity[n+1:])
		}
	}
	return ""
}
