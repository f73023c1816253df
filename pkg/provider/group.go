package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// GroupOptions configures StartAll.
type GroupOptions struct {
	Dialer       Dialer
	Logger       zerolog.Logger
	StartTimeout time.Duration
	// OnStateChange, when set, is called after each session settles.
	OnStateChange func(name string, state State)
}

// Group is the set of sessions started together. Either every session in a
// Group is Ready after StartAll, or StartAll returned an error and every
// session has been closed.
type Group struct {
	sessions []*Session
	byName   map[string]*Session
	notify   func(string, State)
}

// StartAll launches every provider concurrently. If any provider fails to
// start, all sessions are closed and the first launch error is returned.
func StartAll(ctx context.Context, configs []Config, opts GroupOptions) (*Group, error) {
	g := &Group{
		sessions: make([]*Session, 0, len(configs)),
		byName:   make(map[string]*Session, len(configs)),
		notify:   opts.OnStateChange,
	}
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, dup := g.byName[cfg.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, cfg.Name)
		}
		s := NewSession(cfg,
			WithDialer(opts.Dialer),
			WithLogger(opts.Logger),
			WithStartTimeout(opts.StartTimeout),
		)
		g.sessions = append(g.sessions, s)
		g.byName[cfg.Name] = s
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, s := range g.sessions {
		eg.Go(func() error {
			err := s.Start(egCtx)
			g.report(s)
			return err
		})
	}

	if err := eg.Wait(); err != nil {
		if cerr := g.Close(); cerr != nil {
			opts.Logger.Warn().Err(cerr).Msg("Closing providers after failed startup")
		}
		return nil, err
	}
	return g, nil
}

func (g *Group) report(s *Session) {
	if g.notify != nil {
		g.notify(s.Name(), s.State())
	}
}

// Sessions returns the sessions in config order.
func (g *Group) Sessions() []*Session {
	out := make([]*Session, len(g.sessions))
	copy(out, g.sessions)
	return out
}

// Session returns the session with the given name.
func (g *Group) Session(name string) (*Session, bool) {
	s, ok := g.byName[name]
	return s, ok
}

// Close closes every session, including ones that are still starting.
// Sessions are closed in parallel so slow providers share one stop grace.
func (g *Group) Close() error {
	errs := make([]error, len(g.sessions))
	var wg sync.WaitGroup
	for i, s := range g.sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Close()
			g.report(s)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
