package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v8/decor"
	"k8s.io/klog/v2"

	"github.com/stbuehler/go-hibp-index/hashindex"
	"github.com/stbuehler/go-hibp-index/ingest"
	"github.com/stbuehler/go-hibp-index/keytype"
)

func newCmdBuildIndex() *cli.Command {
	return &cli.Command{
		Name:  "build-index",
		Usage: "build a sealed hash index from an ordered hash dump",
		Flags: []cli.Flag{
			&cli.PathFlag{Name: "input", Required: true, Usage: "ordered hash-text file, one HEX[:count] per line"},
			&cli.PathFlag{Name: "output", Required: true, Usage: "path of the sealed index file to write"},
			&cli.StringFlag{Name: "type", Value: "SHA-1", Usage: "key type: SHA-1 or NTLM"},
			&cli.IntFlag{Name: "depth", Value: 20, Usage: "bucket table depth in bits, 0..24"},
			&cli.StringFlag{Name: "description", Value: "", Usage: "free-text description stored in the index header"},
			&cli.BoolFlag{Name: "manifest", Usage: "also write a <output>.manifest sidecar file"},
		},
		Action: runBuildIndex,
	}
}

func resolveKeyType(name string) (keytype.KeyType, error) {
	switch strings.ToUpper(name) {
	case "SHA-1", "SHA1":
		return keytype.SHA1, nil
	case "NTLM", "NT":
		return keytype.NTLM, nil
	default:
		return keytype.KeyType{}, fmt.Errorf("unknown key type %q, want SHA-1 or NTLM", name)
	}
}

func runBuildIndex(c *cli.Context) error {
	kt, err := resolveKeyType(c.String("type"))
	if err != nil {
		return cli.Exit(err, 1)
	}

	inputPath := c.Path("input")
	outputPath := c.Path("output")
	depth := c.Int("depth")

	in, err := os.Open(inputPath)
	if err != nil {
		klog.Errorf("opening input: %v", err)
		return cli.Exit(err, 1)
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return cli.Exit(err, 1)
	}

	builder, err := hashindex.Create(outputPath, kt, c.String("description"), uint8(kt.ByteLength()), 0, depth)
	if err != nil {
		klog.Errorf("creating index: %v", err)
		return cli.Exit(err, 1)
	}

	bar := progressbar.DefaultBytes(st.Size(), "building index")
	started := time.Now()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		_ = bar.Add(len(line) + 1)

		key, blank, err := ingest.ParseHIBPLine(line, kt.ByteLength())
		if err != nil {
			klog.Errorf("line %d: %v", lineNo, err)
			return cli.Exit(fmt.Errorf("line %d: %w", lineNo, err), 1)
		}
		if blank {
			continue
		}
		if err := builder.AddEntry(key, nil); err != nil {
			klog.Errorf("line %d: %v", lineNo, err)
			return cli.Exit(fmt.Errorf("line %d: %w", lineNo, err), 1)
		}
	}
	if err := scanner.Err(); err != nil {
		klog.Errorf("scanning input: %v", err)
		return cli.Exit(err, 1)
	}

	if c.Bool("manifest") {
		err = builder.FinishWithManifest(outputPath+".manifest", outputPath)
	} else {
		err = builder.Finish()
	}
	if err != nil {
		klog.Errorf("sealing index: %v", err)
		return cli.Exit(err, 1)
	}

	dur := time.Since(started)
	outStat, statErr := os.Stat(outputPath)
	var outSize int64
	if statErr == nil {
		outSize = outStat.Size()
	}
	klog.Infof("built %d entries in %s (%s)", builder.Entries(), dur.Round(time.Millisecond), humanize.Bytes(uint64(outSize)))
	fmt.Printf("index size: %d bytes (% .2f)\n", outSize, decor.SizeB1000(outSize))
	return nil
}
