package location

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"trailmemo/internal/domain"
)

const (
	DefaultGPSDAddress = "127.0.0.1:2947"

	gpsdDialTimeout   = 3 * time.Second
	gpsdRetryInterval = 2 * time.Second
	watchCommand      = `?WATCH={"enable":true,"json":true}` + "\n"
)

// GPSD streams fixes from a gpsd daemon over its JSON socket protocol. Fixes pass through
// a Filter; Current never blocks on the network.
type GPSD struct {
	address string
	filter  *Filter
	log     zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewGPSD(address string, filter *Filter, log zerolog.Logger) *GPSD {
	if address == "" {
		address = DefaultGPSDAddress
	}
	if filter == nil {
		filter = NewFilter(0)
	}
	return &GPSD{
		address: address,
		filter:  filter,
		log:     log.With().Str("component", "gpsd").Logger(),
	}
}

// Start begins watching in the background. Calling Start while already watching is a no-op.
// A fix left over from an earlier watch is dropped.
func (g *GPSD) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return nil
	}
	g.filter.Reset()

	watchCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.run(watchCtx, g.done)
	return nil
}

func (g *GPSD) Current() (domain.Location, bool) {
	return g.filter.Current()
}

func (g *GPSD) Stop() error {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.cancel, g.done = nil, nil
	g.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (g *GPSD) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := g.watch(ctx)
		if ctx.Err() != nil {
			return
		}
		g.log.Warn().Err(err).Str("address", g.address).Msg("gpsd watch ended; retrying")

		timer := time.NewTimer(gpsdRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (g *GPSD) watch(ctx context.Context) error {
	dialer := net.Dialer{Timeout: gpsdDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", g.address)
	if err != nil {
		return fmt.Errorf("connect to gpsd: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if _, err := conn.Write([]byte(watchCommand)); err != nil {
		return fmt.Errorf("send watch command: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		fix, ok, err := parseReport(scanner.Bytes())
		if err != nil {
			g.log.Debug().Err(err).Msg("skip malformed gpsd report")
			continue
		}
		if !ok {
			continue
		}
		if g.filter.Offer(fix) {
			g.log.Debug().Float64("accuracy", fix.Accuracy).Msg("location fix accepted")
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("gpsd closed the connection")
}

type gpsdReport struct {
	Class string   `json:"class"`
	Mode  int      `json:"mode"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	Eph   *float64 `json:"eph"`
	Epx   *float64 `json:"epx"`
	Epy   *float64 `json:"epy"`
}

// parseReport extracts a fix from a TPV report. Other classes, reports without a 2D fix and
// reports without an error estimate yield ok == false.
func parseReport(line []byte) (domain.Location, bool, error) {
	var report gpsdReport
	if err := json.Unmarshal(line, &report); err != nil {
		return domain.Location{}, false, err
	}
	if report.Class != "TPV" || report.Mode < 2 || report.Lat == nil || report.Lon == nil {
		return domain.Location{}, false, nil
	}

	var accuracy float64
	switch {
	case report.Eph != nil:
		accuracy = *report.Eph
	case report.Epx != nil && report.Epy != nil:
		accuracy = math.Max(*report.Epx, *report.Epy)
	default:
		return domain.Location{}, false, nil
	}

	return domain.Location{
		Latitude:  *report.Lat,
		Longitude: *report.Lon,
		Accuracy:  accuracy,
	}, true, nil
}
