package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jellydator/ttlcache/v3"
	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/stbuehler/go-hibp-index/hashindex"
	"github.com/stbuehler/go-hibp-index/ingest"
	"github.com/stbuehler/go-hibp-index/keytype"
)

func newCmdLookup() *cli.Command {
	return &cli.Command{
		Name:      "lookup",
		Usage:     "look up hashes or passwords read from stdin against one or more indexes",
		ArgsUsage: "<index-path>...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "sha1", Usage: "only query SHA-1 indexes"},
			&cli.BoolFlag{Name: "ntlm", Usage: "only query NTLM indexes"},
			&cli.BoolFlag{Name: "plaintext", Value: true, Usage: "hash non-hex input lines as passwords"},
			&cli.BoolFlag{Name: "no-plaintext", Usage: "reject non-hex input lines instead of hashing them"},
			&cli.BoolFlag{Name: "oneshot", Usage: "exit after the first line: 0=absent, 1=present"},
			&cli.BoolFlag{Name: "watch", Usage: "hot-reload indexes that are atomically replaced on disk"},
			&cli.BoolFlag{Name: "json", Usage: "emit one JSON result object per input line"},
		},
		Action: runLookup,
	}
}

// lookupResult is the --json output shape for one input line.
type lookupResult struct {
	Line   string `json:"line"`
	Key    string `json:"key"`
	Found  bool   `json:"found"`
	Index  string `json:"index,omitempty"`
	Error  string `json:"error,omitempty"`
	WasHex bool   `json:"was_hex"`
}

type readerSet struct {
	paths   []string
	readers atomic.Pointer[[]*hashindex.Reader]
}

func (rs *readerSet) load() ([]*hashindex.Reader, error) {
	opened := make([]*hashindex.Reader, 0, len(rs.paths))
	for _, p := range rs.paths {
		r, err := hashindex.Open(p)
		if err != nil {
			for _, o := range opened {
				o.Close()
			}
			return nil, fmt.Errorf("opening %s: %w", p, err)
		}
		opened = append(opened, r)
	}
	return opened, nil
}

func (rs *readerSet) reload() error {
	opened, err := rs.load()
	if err != nil {
		return err
	}
	old := rs.readers.Swap(&opened)
	if old != nil {
		for _, o := range *old {
			o.Close()
		}
	}
	return nil
}

func (rs *readerSet) current() []*hashindex.Reader {
	p := rs.readers.Load()
	if p == nil {
		return nil
	}
	return *p
}

func runLookup(c *cli.Context) error {
	paths := c.Args().Slice()
	if len(paths) == 0 {
		return cli.Exit(fmt.Errorf("at least one index path is required"), 1)
	}

	allowPlaintext := c.Bool("plaintext") && !c.Bool("no-plaintext")
	jsonOut := c.Bool("json")
	oneshot := c.Bool("oneshot")

	var wantTypes []keytype.KeyType
	if c.Bool("sha1") {
		wantTypes = append(wantTypes, keytype.SHA1)
	}
	if c.Bool("ntlm") {
		wantTypes = append(wantTypes, keytype.NTLM)
	}

	rs := &readerSet{paths: paths}
	if err := rs.reload(); err != nil {
		klog.Errorf("opening indexes: %v", err)
		return cli.Exit(err, 1)
	}
	defer func() {
		for _, r := range rs.current() {
			r.Close()
		}
	}()

	if c.Bool("watch") {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return cli.Exit(err, 1)
		}
		defer watcher.Close()
		for _, p := range paths {
			if err := watcher.Add(p); err != nil {
				klog.Warningf("watching %s: %v", p, err)
			}
		}
		go func() {
			for {
				select {
				case ev, ok := <-watcher.Events:
					if !ok {
						return
					}
					if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
						if err := rs.reload(); err != nil {
							klog.Warningf("reload after %s: %v", ev, err)
						} else {
							klog.Infof("reloaded indexes after %s", ev)
						}
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					klog.Warningf("watch error: %v", err)
				}
			}
		}()
	}

	negativeCache := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](30*time.Second),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)

	json := jsoniter.ConfigCompatibleWithStandardLibrary
	scanner := bufio.NewScanner(c.App.Reader)

	for scanner.Scan() {
		line := scanner.Text()
		readers := rs.current()
		result, err := lookupOneLine(line, readers, wantTypes, allowPlaintext, negativeCache)
		if err != nil {
			result = &lookupResult{Line: line, Error: err.Error()}
		}

		if jsonOut {
			b, _ := json.Marshal(result)
			fmt.Println(string(b))
		} else if result.Error != "" {
			fmt.Printf("%s: error: %s\n", line, result.Error)
		} else if result.Found {
			fmt.Printf("%s: found (%s)\n", line, result.Index)
		} else {
			fmt.Printf("%s: absent\n", line)
		}

		if oneshot {
			if result.Found {
				return cli.Exit("", 1)
			}
			return cli.Exit("", 0)
		}
	}
	if err := scanner.Err(); err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}

func lookupOneLine(line string, readers []*hashindex.Reader, wantTypes []keytype.KeyType, allowPlaintext bool, negativeCache *ttlcache.Cache[string, struct{}]) (*lookupResult, error) {
	for _, r := range readers {
		if !keyTypeWanted(r.KeyType(), wantTypes) {
			continue
		}
		key, wasHex, err := ingest.ParseLookupLine(line, r.KeyType(), allowPlaintext)
		if err != nil {
			continue
		}

		cacheKey := r.KeyType().Name() + ":" + hex.EncodeToString(key)
		if item := negativeCache.Get(cacheKey); item != nil && !item.IsExpired() {
			continue
		}

		_, found, err := r.Lookup(key)
		if err != nil {
			return nil, err
		}
		if found {
			return &lookupResult{Line: line, Key: hex.EncodeToString(key), Found: true, Index: r.Path(), WasHex: wasHex}, nil
		}
		negativeCache.Set(cacheKey, struct{}{}, ttlcache.DefaultTTL)
	}
	return &lookupResult{Line: line, Found: false}, nil
}

func keyTypeWanted(kt keytype.KeyType, wantTypes []keytype.KeyType) bool {
	if len(wantTypes) == 0 {
		return true
	}
	for _, w := range wantTypes {
		if w.Name() == kt.Name() {
			return true
		}
	}
	return false
}
