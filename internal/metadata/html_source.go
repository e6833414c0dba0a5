package metadata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/httputil"
)

// sccDateLayout is the date format of the catalog admin tables.
const sccDateLayout = "2006-01-02 15:04"

// HTMLSource scrapes station metadata from the catalog's admin table page.
// Each table row carries cells classed field-<column>.
type HTMLSource struct {
	BaseURL string
	Client  httputil.HTTPClient
	// MaxBody caps the page size read; zero uses the httputil default.
	MaxBody int64
}

// NewHTMLSource returns a source for the station table at baseURL.
func NewHTMLSource(baseURL string, client httputil.HTTPClient) *HTMLSource {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &HTMLSource{BaseURL: baseURL, Client: client}
}

func (s *HTMLSource) Lookup(ctx context.Context, stationID string, date time.Time) (*Station, error) {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata url %q: %w", s.BaseURL, err)
	}
	q := u.Query()
	q.Set("station_id", stationID)
	u.RawQuery = q.Encode()

	body, err := httputil.GetBody(ctx, s.Client, u.String(), s.MaxBody)
	if err != nil {
		var status *httputil.StatusError
		if errors.As(err, &status) && status.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, status.URL)
		}
		return nil, err
	}

	stations, err := ParseStationTable(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for _, st := range stations {
		if st.StationID == stationID && st.Covers(date) {
			return st, nil
		}
	}
	return nil, fmt.Errorf("%w: station %q not listed for %s", ErrNotFound, stationID, date.UTC().Format(time.DateOnly))
}

// ParseStationTable extracts the active stations from an admin table page.
// Rows without a field-station_id cell (headers, pagination) are ignored.
func ParseStationTable(r io.Reader) ([]*Station, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse station table: %w", err)
	}

	var stations []*Station
	var walk func(n *html.Node) error
	walk = func(n *html.Node) error {
		if n.Type == html.ElementNode && n.Data == "tr" {
			cells := rowCells(n)
			if _, ok := cells["station_id"]; ok {
				st, active, err := stationFromCells(cells)
				if err != nil {
					return err
				}
				if active {
					stations = append(stations, st)
				}
			}
			return nil
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(doc); err != nil {
		return nil, err
	}
	return stations, nil
}

// rowCells maps the field-<name> class of each th/td in tr to its node.
func rowCells(tr *html.Node) map[string]*html.Node {
	cells := make(map[string]*html.Node)
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.Data != "td" && c.Data != "th") {
			continue
		}
		for _, class := range strings.Fields(attr(c, "class")) {
			if name, ok := strings.CutPrefix(class, "field-"); ok {
				cells[name] = c
			}
		}
	}
	return cells
}

func stationFromCells(cells map[string]*html.Node) (*Station, bool, error) {
	st := &Station{
		StationID: cellText(cells["station_id"]),
		Name:      cellText(cells["name"]),
		SCCCode:   cellText(cells["scc_code"]),
	}
	if st.SCCCode == "" {
		st.SCCCode = st.StationID
	}
	fail := func(field string, err error) (*Station, bool, error) {
		return nil, false, fmt.Errorf("station %q: bad %s: %w", st.StationID, field, err)
	}

	var err error
	if st.Latitude, err = cellFloat(cells["latitude"]); err != nil {
		return fail("latitude", err)
	}
	if st.Longitude, err = cellFloat(cells["longitude"]); err != nil {
		return fail("longitude", err)
	}
	if st.Altitude, err = cellFloat(cells["altitude"]); err != nil {
		return fail("altitude", err)
	}
	if st.SystemIDDay, err = cellInt(cells["system_id_day"]); err != nil {
		return fail("system_id_day", err)
	}
	if st.SystemIDNight, err = cellInt(cells["system_id_night"]); err != nil {
		return fail("system_id_night", err)
	}
	if st.ChannelIDs, err = cellInts(cells["channel_ids"]); err != nil {
		return fail("channel_ids", err)
	}
	if from, ok, err := cellDate(cells["valid_from"]); err != nil {
		return fail("valid_from", err)
	} else if ok {
		st.ValidFrom = from
	}
	if to, ok, err := cellDate(cells["valid_to"]); err != nil {
		return fail("valid_to", err)
	} else if ok {
		st.ValidTo = &to
	}

	active := true
	if n, ok := cells["is_active"]; ok {
		active = cellBool(n)
	}
	return st, active, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func cellText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.TrimSpace(b.String())
}

// empty reports the placeholders the admin tables use for null values.
func empty(s string) bool {
	return s == "" || s == "-" || strings.EqualFold(s, "none") || strings.EqualFold(s, "(none)")
}

func cellFloat(n *html.Node) (float64, error) {
	s := cellText(n)
	if empty(s) {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func cellInt(n *html.Node) (int, error) {
	s := cellText(n)
	if empty(s) {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func cellInts(n *html.Node) ([]int, error) {
	s := cellText(n)
	if empty(s) {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func cellDate(n *html.Node) (time.Time, bool, error) {
	s := cellText(n)
	if empty(s) {
		return time.Time{}, false, nil
	}
	t, err := time.ParseInLocation(sccDateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// cellBool reads the icon the admin tables render for booleans.
func cellBool(n *html.Node) bool {
	img := findElement(n, "img")
	return img != nil && attr(img, "alt") == "True"
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}
