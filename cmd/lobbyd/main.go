// lobbyd runs the session layer against the in-memory feed and exposes
// it over HTTP for inspection. It is a development harness; a real
// client embeds the controllers directly.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/halfmoon-games/lobbycore/internal/config"
	"github.com/halfmoon-games/lobbycore/internal/custom"
	"github.com/halfmoon-games/lobbycore/internal/feed"
	"github.com/halfmoon-games/lobbycore/internal/httpapi"
	"github.com/halfmoon-games/lobbycore/internal/invite"
	"github.com/halfmoon-games/lobbycore/internal/notify"
	"github.com/halfmoon-games/lobbycore/internal/party"
	"github.com/halfmoon-games/lobbycore/internal/players"
	"github.com/halfmoon-games/lobbycore/internal/queue"
	"github.com/halfmoon-games/lobbycore/internal/runloop"
	"github.com/halfmoon-games/lobbycore/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Not tied to the signal context: the loop must keep draining
	// callbacks until the graceful shutdown below finishes.
	loop := runloop.New(context.Background())

	localID := uuid.New()
	local := players.NewMemLocal(localID)
	local.SetPreferredRegion(cfg.DefaultRegion)

	dir := players.NewMemDirectory()
	dir.Add(players.Info{ID: localID, DisplayName: "LocalPlayer", Presence: players.PresenceOnline})

	fd := feed.NewMem(localID)
	fd.TeamLayout[cfg.PartySessionType] = []int{cfg.MaxPartySize}
	fd.TeamLayout[cfg.CustomSessionType] = []int{5, 5}
	fd.Queues = []session.QueueInfo{{QueueID: cfg.DefaultQueueID, Active: true}}

	bus := notify.NewBus()

	p := party.New(log, fd, bus, dir, local, loop, party.Config{
		SessionType:   cfg.PartySessionType,
		MaxSize:       cfg.MaxPartySize,
		ClientVersion: cfg.ClientVersion,
	})
	q := queue.New(log, fd, bus, p, loop, queue.Config{
		GameSessionType: cfg.GameSessionType,
		PollInterval:    cfg.QueuePollInterval,
		DefaultQueueID:  cfg.DefaultQueueID,
	})
	c := custom.New(log, fd, bus, dir, local, custom.Config{
		SessionType: cfg.CustomSessionType,
		DefaultMap:  cfg.DefaultMap,
		DefaultMode: cfg.DefaultMode,
	})

	coord := invite.NewCoordinator(log, dir, local, p)
	p.SetInviteEvaluator(coord)
	p.SetQueueService(q)
	c.SetPartyService(p)
	c.SetQueueLeaver(q)
	c.SetInviteEvaluator(coord)

	loop.Post(func() {
		p.Start()
		q.Start()
		c.Start()
		fd.LoginPoll(true)
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpapi.NewServer(log, loop, bus, p, q, c).Routes(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		loop.Post(func() {
			p.Stop(true)
			q.Stop()
			c.Stop()
		})
		loop.Shutdown()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal("exited", zap.Error(err))
	}
}
