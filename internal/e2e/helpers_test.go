package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"facegate/internal/comparator"
	"facegate/internal/directory"
	"facegate/internal/httpapi"
	"facegate/internal/imagehost"
	"facegate/internal/imaging"
	"facegate/internal/manager"
	"facegate/internal/refcache"
	"facegate/internal/stats"
)

// sidecar fakes the face comparison service.
type sidecar struct {
	srv      *httptest.Server
	distance atomic.Value // float64
	delay    atomic.Int64 // nanoseconds
	down     atomic.Bool
	garbage  atomic.Bool // answer /verify with an HTML error page
	calls    atomic.Int64
	started  chan struct{}
}

func newSidecar(t *testing.T) *sidecar {
	t.Helper()
	s := &sidecar{started: make(chan struct{}, 16)}
	s.distance.Store(0.1)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if s.down.Load() {
			http.Error(w, "loading weights", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model_name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.calls.Add(1)
		select {
		case s.started <- struct{}{}:
		default:
		}
		if d := time.Duration(s.delay.Load()); d > 0 {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				return
			}
		}
		if s.garbage.Load() {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>proxy maintenance page</html>"))
			return
		}
		d := s.distance.Load().(float64)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"verified": d < 0.4, "distance": d, "threshold": 0.4, "model": req.Model,
		})
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

// drain discards call notifications seen so far.
func (s *sidecar) drain() {
	for {
		select {
		case <-s.started:
		default:
			return
		}
	}
}

// world is a running facegate with fake collaborators.
type world struct {
	api     *httptest.Server
	mgr     *manager.Manager
	cmp     *sidecar
	uploads atomic.Int64
	refURL  string
	redis   *miniredis.Miniredis
}

type worldOpts struct {
	models   []string
	capacity int
	gateWait time.Duration
	deadline time.Duration
	// cold skips the eager warm-up.
	cold bool
}

func newWorld(t *testing.T, o worldOpts) *world {
	t.Helper()
	w := &world{cmp: newSidecar(t)}

	ref := imaging.SyntheticJPEG(48)
	images := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "image/jpeg")
		_, _ = rw.Write(ref)
	}))
	t.Cleanup(images.Close)
	w.refURL = images.URL + "/faces/v1.jpg"

	backend := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/v1" {
			http.NotFound(rw, r)
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"_id": "v1", "name": "Ada", "faceImageUrl": w.refURL})
	}))
	t.Cleanup(backend.Close)

	cloud := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		w.uploads.Add(1)
		_ = json.NewEncoder(rw).Encode(map[string]any{"secure_url": "https://cdn.example/evidence.jpg"})
	}))
	t.Cleanup(cloud.Close)

	w.redis = miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: w.redis.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	if o.models == nil {
		o.models = []string{"VGG-Face"}
	}
	w.mgr = manager.NewWithConfig(manager.ManagerConfig{
		Comparator:   comparator.NewHTTP(comparator.HTTPConfig{BaseURL: w.cmp.srv.URL, Timeout: 5 * time.Second}),
		Models:       o.models,
		GateCapacity: o.capacity,
		GateWait:     o.gateWait,
		Deadline:     o.deadline,
		Directory:    directory.New(directory.Config{BaseURL: backend.URL}),
		ImageHost:    imagehost.New(imagehost.Config{BaseURL: cloud.URL, CloudName: "demo", APIKey: "k"}),
		References:   refcache.New(refcache.Options{}),
		Recorder:     stats.NewRedisStore(rdb),
		Sampler: manager.SamplerFunc(func() (manager.MemorySample, error) {
			return manager.MemorySample{RSSBytes: 1 << 20, At: time.Now()}, nil
		}),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = w.mgr.Close(ctx)
	})
	w.api = httptest.NewServer(httpapi.NewMux(w.mgr))
	t.Cleanup(w.api.Close)

	if !o.cold {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.mgr.Warmup(ctx); err != nil {
			t.Fatalf("warmup: %v", err)
		}
		w.cmp.drain()
	}
	return w
}

var capture = imaging.DataURI(imaging.SyntheticJPEG(40))

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload any) (*http.Response, []byte) {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

// post is httpPostJSON for use off the test goroutine.
func post(url string, payload any) (*http.Response, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp, nil
}

// parallel runs fns concurrently and waits for all of them.
func parallel(fns ...func()) {
	var wg sync.WaitGroup
	for _, fn := range fns {
		wg.Add(1)
		go func(fn func()) {
			defer wg.Done()
			fn()
		}(fn)
	}
	wg.Wait()
}
