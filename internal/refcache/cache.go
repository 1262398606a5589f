// Package refcache downloads reference face images and keeps the most
// recently used ones in memory under a byte budget. The whole cache can be
// dropped on demand when the process is under memory pressure.
package refcache

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultMaxBytes  int64 = 32 << 20
	defaultItemBytes int64 = 10 << 20
)

// FetchError reports an unusable reference URL or response.
type FetchError struct {
	URL    string
	Status int
	Msg    string
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Msg, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Msg)
}

// ClientReason marks the failure as caused by the request's URL.
func (e *FetchError) ClientReason() string { return "reference_download_failed" }

// Options configures a Cache. Zero values use defaults.
type Options struct {
	MaxBytes     int64
	MaxItemBytes int64
	Timeout      time.Duration
	Client       *http.Client
}

type entry struct {
	url  string
	data []byte
}

// Cache is a byte-bounded LRU of downloaded images. Safe for concurrent use.
type Cache struct {
	maxBytes int64
	maxItem  int64
	timeout  time.Duration
	client   *http.Client
	group    singleflight.Group

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
	size  int64
	hits  int64
	miss  int64
}

func New(opts Options) *Cache {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.MaxItemBytes <= 0 {
		opts.MaxItemBytes = defaultItemBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	return &Cache{
		maxBytes: opts.MaxBytes,
		maxItem:  opts.MaxItemBytes,
		timeout:  opts.Timeout,
		client:   opts.Client,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Fetch returns the bytes at url, downloading them on a miss. Concurrent
// misses for the same URL share one download, which is detached from any
// single caller's cancellation and bounded by the cache timeout. Callers
// must not modify the returned slice.
func (c *Cache) Fetch(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, &FetchError{URL: url, Msg: "not an http(s) URL"}
	}
	if b, ok := c.get(url); ok {
		return b, nil
	}
	dctx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(url, func() (any, error) {
		if b, ok := c.get(url); ok {
			return b, nil
		}
		b, err := c.download(dctx, url)
		if err != nil {
			return nil, err
		}
		c.add(url, b)
		return b, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) download(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Msg: err.Error()}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{URL: url, Status: resp.StatusCode, Msg: "unexpected status"}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, c.maxItem+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if int64(len(b)) > c.maxItem {
		return nil, &FetchError{URL: url, Msg: fmt.Sprintf("image larger than %d bytes", c.maxItem)}
	}
	if len(b) == 0 {
		return nil, &FetchError{URL: url, Msg: "empty body"}
	}
	return b, nil
}

func (c *Cache) get(url string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[url]; ok {
		c.ll.MoveToFront(el)
		c.hits++
		return el.Value.(*entry).data, true
	}
	c.miss++
	return nil, false
}

func (c *Cache) add(url string, b []byte) {
	n := int64(len(b))
	if n > c.maxBytes {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[url]; ok {
		c.ll.MoveToFront(el)
		return
	}
	c.items[url] = c.ll.PushFront(&entry{url: url, data: b})
	c.size += n
	for c.size > c.maxBytes {
		c.removeOldest()
	}
}

func (c *Cache) removeOldest() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	e := c.ll.Remove(el).(*entry)
	delete(c.items, e.url)
	c.size -= int64(len(e.data))
}

// Name identifies the cache in reclamation logs.
func (c *Cache) Name() string { return "refcache" }

// Purge drops every entry and reports the bytes released.
func (c *Cache) Purge() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	freed := c.size
	c.ll.Init()
	c.items = make(map[string]*list.Element)
	c.size = 0
	return freed
}

// Stats reports entries, bytes held, hits and misses.
func (c *Cache) Stats() (entries int, bytes, hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len(), c.size, c.hits, c.miss
}
