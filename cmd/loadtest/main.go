package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/aeolun/surge/pkg/auth"
	"github.com/aeolun/surge/pkg/protocol"
)

var (
	addr     = flag.String("addr", "ws://127.0.0.1:8765/ws", "Gateway WebSocket URL")
	clients  = flag.Int("clients", 100, "Number of concurrent clients")
	channels = flag.Int("channels", 10, "Number of distinct channel scopes")
	secret   = flag.String("secret", "dev-secret", "JWT secret shared with the gateway")
	natsURL  = flag.String("nats", "nats://127.0.0.1:4222", "NATS URL for publishing test events")
	subject  = flag.String("subject", "chat.events", "Event stream subject")
	rate     = flag.Int("rate", 50, "Events published per second")
	redisStr = flag.String("redis", "", "Redis address for seeding directory membership (optional)")
	prefix   = flag.String("redis-prefix", "directory:user:", "Directory key prefix")
)

// Counters shared between client goroutines and the reporter
var (
	connected    atomic.Int64
	dispatches   atomic.Int64
	latencySumUs atomic.Int64
	latencyCount atomic.Int64
)

type testPayload struct {
	SentAtNs int64 `json:"sentAtNs"`
}

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *redisStr != "" {
		if err := seedDirectory(ctx); err != nil {
			log.Fatalf("Failed to seed directory: %v", err)
		}
		log.Printf("Seeded directory membership for %d users across %d channels", *clients, *channels)
	}

	var wg sync.WaitGroup
	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := runClient(ctx, i); err != nil && ctx.Err() == nil {
				log.Printf("client %d: %v", i, err)
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := publishLoop(ctx); err != nil && ctx.Err() == nil {
			log.Printf("publisher: %v", err)
		}
	}()

	reportTicker := time.NewTicker(2 * time.Second)
	defer reportTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			report()
			return
		case <-reportTicker.C:
			report()
		}
	}
}

func report() {
	count := latencyCount.Load()
	avg := time.Duration(0)
	if count > 0 {
		avg = time.Duration(latencySumUs.Load()/count) * time.Microsecond
	}
	log.Printf("connected=%d dispatches=%d avg_latency=%v",
		connected.Load(), dispatches.Load(), avg)
}

func channelScope(i int) string {
	return fmt.Sprintf("channel:%d", i % *channels)
}

func seedDirectory(ctx context.Context) error {
	rdb := redis.NewClient(&redis.Options{Addr: *redisStr})
	defer rdb.Close()

	for i := 0; i < *clients; i++ {
		key := *prefix + fmt.Sprintf("load-user-%d", i)
		if err := rdb.SAdd(ctx, key, channelScope(i)).Err(); err != nil {
			return err
		}
	}
	return nil
}

func runClient(ctx context.Context, i int) error {
	userID := fmt.Sprintf("load-user-%d", i)
	token, err := auth.Generate([]byte(*secret), userID, time.Hour)
	if err != nil {
		return err
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()

	// Hello carries the heartbeat interval we must honor
	var hello protocol.Frame
	if err := ws.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	var helloPayload protocol.HelloPayload
	if err := json.Unmarshal(hello.D, &helloPayload); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}

	identify, _ := json.Marshal(protocol.IdentifyPayload{Token: token})
	if err := ws.WriteJSON(protocol.Frame{Op: protocol.OpIdentify, D: identify}); err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	connected.Add(1)
	defer connected.Add(-1)

	// Heartbeat on the advertised interval
	go func() {
		interval := time.Duration(helloPayload.HeartbeatIntervalMs) * time.Millisecond
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ws.WriteJSON(protocol.Frame{Op: protocol.OpHeartbeat}); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		ws.Close()
	}()

	for {
		var frame protocol.Frame
		if err := ws.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if frame.Op != protocol.OpDispatch || frame.T == nil || *frame.T != "MESSAGE_CREATE" {
			continue
		}
		dispatches.Add(1)

		var p testPayload
		if err := json.Unmarshal(frame.D, &p); err == nil && p.SentAtNs > 0 {
			latencySumUs.Add((time.Now().UnixNano() - p.SentAtNs) / 1000)
			latencyCount.Add(1)
		}
	}
}

func publishLoop(ctx context.Context) error {
	nc, err := nats.Connect(*natsURL, nats.Name("surge-loadtest"))
	if err != nil {
		return err
	}
	defer nc.Close()

	interval := time.Second
	if *rate > 0 {
		interval = time.Second / time.Duration(*rate)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			payload, _ := json.Marshal(testPayload{SentAtNs: time.Now().UnixNano()})
			env := protocol.Envelope{
				Type:    "MESSAGE_CREATE",
				Scopes:  []string{channelScope(rand.Intn(*channels))},
				Payload: payload,
			}
			data, err := env.Encode()
			if err != nil {
				return err
			}
			if err := nc.Publish(*subject, data); err != nil {
				return err
			}
		}
	}
}
