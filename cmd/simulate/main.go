// simulate drives a running coordinator with fake participants: a clinician
// admitting from the waiting room plus N patients chatting and reporting
// quality, to exercise the room path under concurrent load.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type counters struct {
	admitted atomic.Int64
	joined   atomic.Int64
	chats    atomic.Int64
	quality  atomic.Int64
	errors   atomic.Int64
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "coordinator base URL")
	roomID := flag.String("room", "appt-"+uuid.New().String()[:8], "appointment room id")
	patients := flag.Int("patients", 3, "number of fake patients")
	duration := flag.Duration("duration", 30*time.Second, "how long to run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var c counters
	var wg sync.WaitGroup

	clinicianID := "clin-" + uuid.New().String()[:8]
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runClinician(ctx, *baseURL, *roomID, clinicianID, &c); err != nil {
			log.Printf("clinician: %v", err)
			c.errors.Add(1)
		}
	}()

	for i := 0; i < *patients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// stagger arrivals a little
			time.Sleep(time.Duration(rand.Intn(2000)) * time.Millisecond)
			if err := runPatient(ctx, *baseURL, *roomID, &c); err != nil {
				log.Printf("patient: %v", err)
				c.errors.Add(1)
			}
		}()
	}

	wg.Wait()
	fmt.Printf("\nroom %s summary:\n", *roomID)
	fmt.Printf("  admitted: %d\n", c.admitted.Load())
	fmt.Printf("  joined:   %d\n", c.joined.Load())
	fmt.Printf("  chats:    %d\n", c.chats.Load())
	fmt.Printf("  quality:  %d\n", c.quality.Load())
	fmt.Printf("  errors:   %d\n", c.errors.Load())
}

func wsURL(base, roomID, userID, name, role string) string {
	u := strings.Replace(base, "http", "ws", 1)
	return fmt.Sprintf("%s/ws/rooms/%s?access_token=sim&user_id=%s&display_name=%s&role=%s",
		u, url.PathEscape(roomID), url.QueryEscape(userID), url.QueryEscape(name), role)
}

func send(conn *websocket.Conn, msgType string, payload map[string]any) error {
	return conn.WriteJSON(map[string]any{"type": msgType, "payload": payload})
}

func runClinician(ctx context.Context, base, roomID, userID string, c *counters) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL(base, roomID, userID, gofakeit.Name(), "clinician"), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := send(conn, "presence_join", nil); err != nil {
		return err
	}
	c.joined.Add(1)

	// Admit whoever shows up in the waiting room.
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				admitNext(ctx, base, roomID, userID, c)
			case <-ctx.Done():
				return
			}
		}
	}()

	// Drain events until the run ends.
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsUnexpectedCloseError(err) {
				return err
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func admitNext(ctx context.Context, base, roomID, clinicianID string, c *counters) {
	var waiting struct {
		Items []struct {
			UserID string `json:"user_id"`
		} `json:"items"`
	}
	if err := restCall(ctx, base, clinicianID, http.MethodGet, "/rooms/"+roomID+"/waiting", nil, &waiting); err != nil {
		return
	}
	for _, item := range waiting.Items {
		body := map[string]string{"user_id": item.UserID}
		if err := restCall(ctx, base, clinicianID, http.MethodPost, "/rooms/"+roomID+"/waiting/admit", body, nil); err == nil {
			c.admitted.Add(1)
		}
	}
}

func restCall(ctx context.Context, base, userID, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer sim")
	req.Header.Set("X-User-ID", userID)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func runPatient(ctx context.Context, base, roomID string, c *counters) error {
	userID := "pat-" + uuid.New().String()[:8]
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL(base, roomID, userID, gofakeit.Name(), "patient"), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := send(conn, "waiting_enqueue", nil); err != nil {
		return err
	}

	// Wait for admission, then join and start behaving like a participant.
	token, err := awaitAdmission(ctx, conn)
	if err != nil {
		return err
	}
	if err := send(conn, "presence_join", map[string]any{"admission_token": token}); err != nil {
		return err
	}
	c.joined.Add(1)

	go drain(ctx, conn)

	ratings := []string{"excellent", "good", "fair", "poor"}
	ticker := time.NewTicker(time.Duration(500+rand.Intn(1500)) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if rand.Intn(3) == 0 {
				err = send(conn, "quality_report", map[string]any{"sample": map[string]any{
					"network":    ratings[rand.Intn(len(ratings))],
					"audio":      ratings[rand.Intn(len(ratings))],
					"video":      ratings[rand.Intn(len(ratings))],
					"latency_ms": 20 + rand.Intn(300),
					"jitter_ms":  rand.Intn(40),
					"loss_pct":   rand.Float64() * 3,
				}})
				if err == nil {
					c.quality.Add(1)
				}
			} else {
				err = send(conn, "log_append", map[string]any{
					"channel":  "chat",
					"entry_id": uuid.New().String(),
					"body":     map[string]string{"text": gofakeit.Sentence(8)},
				})
				if err == nil {
					c.chats.Add(1)
				}
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		case <-ctx.Done():
			_ = send(conn, "presence_leave", nil)
			return nil
		}
	}
}

func awaitAdmission(ctx context.Context, conn *websocket.Conn) (string, error) {
	for {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return "", fmt.Errorf("awaiting admission: %w", err)
		}
		if f.Type != "waiting_room_admitted" {
			continue
		}
		var evt struct {
			Payload struct {
				AdmissionToken string `json:"admission_token"`
			} `json:"payload"`
		}
		if err := json.Unmarshal(f.Payload, &evt); err != nil {
			continue
		}
		if evt.Payload.AdmissionToken != "" {
			return evt.Payload.AdmissionToken, nil
		}
	}
}

func drain(ctx context.Context, conn *websocket.Conn) {
	for {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}
