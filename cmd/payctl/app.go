package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/offpaylabs/offpay/internal/config"
	"github.com/offpaylabs/offpay/internal/gossip"
	"github.com/offpaylabs/offpay/internal/ledger"
	"github.com/offpaylabs/offpay/internal/logger"
	"github.com/offpaylabs/offpay/internal/model"
	"github.com/offpaylabs/offpay/internal/qr"
	"github.com/offpaylabs/offpay/internal/service"
	"github.com/offpaylabs/offpay/internal/signer"
	"github.com/offpaylabs/offpay/internal/syncer"
)

// app bundles the wired client components for one payctl invocation.
type app struct {
	cfg   *config.Config
	store *ledger.Store
	svc   *service.PayService
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	store, err := ledger.Open(cfg.Client.StorePath, log)
	if err != nil {
		return nil, err
	}

	sig := signer.FromKey(cfg.Client.DeviceKey)
	codec := qr.NewCodec(cfg.Client.Currency, sig)
	broadcaster := gossip.NewBroadcaster(cfg.Client.GossipRelay, cfg.Client.PeerID, cfg.Client.GossipTimeout(), log)
	reconciler := syncer.NewReconciler(store,
		syncer.StaticResolver(cfg.Client.SyncAddrs...), cfg.Client.SyncTimeout(), log)
	svc := service.NewPayService(store, codec, sig, broadcaster, reconciler, cfg.Client.SenderID, log)

	return &app{cfg: cfg, store: store, svc: svc}, nil
}

// fetchProfileBalance asks each candidate authority address for the user's
// starting balance, first reachable wins.
func (a *app) fetchProfileBalance(ctx context.Context) (model.Amount, error) {
	client := &http.Client{Timeout: a.cfg.Client.SyncTimeout()}
	var lastErr error
	for _, base := range a.cfg.Client.SyncAddrs {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			base+"/v1/profile/"+a.cfg.Client.SenderID, nil)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return 0, fmt.Errorf("profile fetch failed (%d): %s", resp.StatusCode, raw)
		}
		var p model.Profile
		if err := json.Unmarshal(raw, &p); err != nil {
			return 0, fmt.Errorf("decode profile: %w", err)
		}
		return p.Balance, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no candidate addresses configured")
	}
	return 0, fmt.Errorf("no authority reachable: %w", lastErr)
}
