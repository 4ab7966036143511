// Package stat polls a running node's counters endpoint and renders the
// values as a table.
package stat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rzbill/weft/internal/counters"
)

type Options struct {
	// Addr is host:port of the node's HTTP listener.
	Addr string
	// Interval between polls when Count is not one.
	Interval time.Duration
	// Count of snapshots to print; zero polls until ctx is done.
	Count int
}

// Run polls /v1/counters and writes each snapshot to out.
func Run(ctx context.Context, opts Options, out io.Writer) error {
	if opts.Addr == "" {
		return fmt.Errorf("stat: addr required")
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	url := opts.Addr
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	url += "/v1/counters"

	client := &http.Client{Timeout: 5 * time.Second}
	for printed := 0; ; printed++ {
		if opts.Count > 0 && printed >= opts.Count {
			return nil
		}
		if printed > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.Interval):
			}
		}
		if err := poll(ctx, client, url, out); err != nil {
			return err
		}
	}
}

func poll(ctx context.Context, client *http.Client, url string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stat: %s returned %s", url, resp.Status)
	}
	var vals []counters.Value
	if err := json.NewDecoder(resp.Body).Decode(&vals); err != nil {
		return err
	}
	return render(vals, out)
}

func render(vals []counters.Value, out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tLABEL\tSESSION\tSTREAM\tVALUE")
	for _, v := range vals {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\n",
			v.ID, v.Type, v.Label, v.SessionID, v.StreamID, v.Value)
	}
	fmt.Fprintln(tw)
	return tw.Flush()
}
