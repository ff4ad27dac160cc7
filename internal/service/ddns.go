package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fleetsense/telemetry/pkg/config"
	"github.com/fleetsense/telemetry/pkg/logger"
)

const publicIPEndpoint = "https://api.ipify.org?format=json"

// DDNSUpdater keeps a Dynu DNS record pointed at the server's current
// public IP so field trackers configured with a hostname keep reaching it
// after an address change.
type DDNSUpdater struct {
	cfg    config.DDNSConfig
	log    *logger.Logger
	logBus LogSink
	client *http.Client
}

// NewDDNSUpdater creates a DDNS updater
func NewDDNSUpdater(cfg config.DDNSConfig, logBus LogSink, log *logger.Logger) *DDNSUpdater {
	return &DDNSUpdater{
		cfg:    cfg,
		log:    log,
		logBus: logBus,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Run checks and updates the record on the configured interval until ctx is
// cancelled
func (u *DDNSUpdater) Run(ctx context.Context) {
	ticker := time.NewTicker(u.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		if err := u.checkOnce(ctx); err != nil {
			u.log.Warnw("DDNS check failed", "host", u.cfg.Host, "error", err)
			u.logBus.Log(fmt.Sprintf("[DDNS] Error for %s: %v", u.cfg.Host, err), "log")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (u *DDNSUpdater) checkOnce(ctx context.Context) error {
	currentIP, err := u.publicIP(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch public IP: %w", err)
	}

	addrs, err := net.LookupHost(u.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", u.cfg.Host, err)
	}

	for _, addr := range addrs {
		if addr == currentIP {
			u.log.Debugw("DDNS record up to date", "host", u.cfg.Host, "ip", currentIP)
			return nil
		}
	}

	return u.pushUpdate(ctx, currentIP)
}

func (u *DDNSUpdater) publicIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, publicIPEndpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.IP, nil
}

func (u *DDNSUpdater) pushUpdate(ctx context.Context, ip string) error {
	url := fmt.Sprintf("https://api.dynu.com/nic/update?hostname=%s&myip=%s", u.cfg.Host, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(u.cfg.Username, u.cfg.Password)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to push DDNS update: %w", err)
	}
	defer resp.Body.Close()

	u.log.Infow("DDNS record updated", "host", u.cfg.Host, "ip", ip, "status", resp.StatusCode)
	u.logBus.Log(fmt.Sprintf("[DDNS] Updated %s to %s", u.cfg.Host, ip), "log")
	return nil
}
