package archive

import (
	"fmt"
	"sort"
	"strconv"
)

// Metric selects the per-group load value the distributor balances on.
type Metric string

const (
	MetricFileCount    Metric = "file_count"
	MetricMessageCount Metric = "message_count"
	MetricSizeEstimate Metric = "size_estimate"
	MetricMixed        Metric = "mixed"
)

func (m Metric) Valid() bool {
	switch m {
	case "", MetricFileCount, MetricMessageCount, MetricSizeEstimate, MetricMixed:
		return true
	default:
		return false
	}
}

// DistributeOptions tune grouping and assignment.
type DistributeOptions struct {
	Metric Metric

	// PreferLargeFirst places big groups before the load gaps between
	// sessions have formed, which balances better in practice.
	PreferLargeFirst bool

	// SplitThreshold is the album size above which chunking kicks in.
	// Zero means 2 × session count.
	SplitThreshold int
}

// SessionLoad is one session's slice of the balance report.
type SessionLoad struct {
	Session  string  `json:"session"`
	Groups   int     `json:"groups"`
	Files    int     `json:"files"`
	Messages int     `json:"messages"`
	Bytes    int64   `json:"bytes"`
	Load     float64 `json:"load"`
}

// BalanceReport describes how evenly an assignment landed, for operator
// logging and the plan command.
type BalanceReport struct {
	Sessions    []SessionLoad `json:"sessions"`
	MinMaxRatio float64       `json:"min_max_ratio"`
	MeanFiles   float64       `json:"mean_files"`
}

// BuildGroups folds probed descriptors into assignment units: albums keyed
// by their id, id-ordered chunks for oversized albums, and one group per
// loose message. Descriptors must be id-ascending, which the probe
// guarantees.
func BuildGroups(descs []Descriptor, sessionCount, splitThreshold int) []*Group {
	if sessionCount < 1 {
		sessionCount = 1
	}
	if splitThreshold <= 0 {
		splitThreshold = 2 * sessionCount
	}

	albums := make(map[string]*Group)
	var order []*Group
	for _, d := range descs {
		if d.AlbumID == "" {
			order = append(order, &Group{
				Key:     "single:" + strconv.Itoa(d.ID),
				Members: []Descriptor{d},
			})
			continue
		}
		g := albums[d.AlbumID]
		if g == nil {
			g = &Group{Key: d.AlbumID, AlbumID: d.AlbumID}
			albums[d.AlbumID] = g
			order = append(order, g)
		}
		g.Members = append(g.Members, d)
	}

	out := make([]*Group, 0, len(order))
	for _, g := range order {
		if g.AlbumID == "" || len(g.Members) <= splitThreshold {
			out = append(out, g)
			continue
		}
		out = append(out, splitGroup(g, sessionCount)...)
	}
	return out
}

// splitGroup chunks an oversized album into id-ordered parts of
// max(2, members/sessions), folding the remainder into the last part.
// Every part keeps the parent album id.
func splitGroup(g *Group, sessionCount int) []*Group {
	chunk := len(g.Members) / sessionCount
	if chunk < 2 {
		chunk = 2
	}
	nparts := len(g.Members) / chunk
	if nparts < 2 {
		return []*Group{g}
	}

	parts := make([]*Group, 0, nparts)
	for i := 0; i < nparts; i++ {
		lo := i * chunk
		hi := lo + chunk
		if i == nparts-1 {
			hi = len(g.Members)
		}
		parts = append(parts, &Group{
			Key:     fmt.Sprintf("%s_part_%d", g.AlbumID, i+1),
			AlbumID: g.AlbumID,
			Members: append([]Descriptor(nil), g.Members[lo:hi]...),
		})
	}
	return parts
}

// Distribute assigns groups to sessions greedily, lowest load first, while
// keeping every chunk of an album on the same session. The output is
// deterministic for identical inputs: the base group order follows the
// descriptors, the large-first sort is stable, and ties go to the lowest
// session index.
func Distribute(descs []Descriptor, sessions []string, opts DistributeOptions) (Assignment, *BalanceReport, error) {
	if len(sessions) == 0 {
		return nil, nil, fmt.Errorf("distribute: no online sessions")
	}
	if !opts.Metric.Valid() {
		return nil, nil, fmt.Errorf("distribute: unknown metric %q", opts.Metric)
	}

	groups := BuildGroups(descs, len(sessions), opts.SplitThreshold)
	if opts.PreferLargeFirst {
		sort.SliceStable(groups, func(i, j int) bool {
			return groups[i].FileCount() > groups[j].FileCount()
		})
	}

	asn := make(Assignment, len(sessions))
	for _, s := range sessions {
		asn[s] = nil
	}
	loads := make([]float64, len(sessions))
	albumHome := make(map[string]int)

	for _, g := range groups {
		idx := -1
		if g.AlbumID != "" {
			if home, ok := albumHome[g.AlbumID]; ok {
				idx = home
			}
		}
		if idx < 0 {
			idx = 0
			for i := 1; i < len(sessions); i++ {
				if loads[i] < loads[idx] {
					idx = i
				}
			}
		}
		if g.AlbumID != "" {
			albumHome[g.AlbumID] = idx
		}
		asn[sessions[idx]] = append(asn[sessions[idx]], g)
		loads[idx] += groupLoad(g, opts.Metric)
	}

	return asn, buildBalanceReport(sessions, asn, loads), nil
}

func groupLoad(g *Group, m Metric) float64 {
	switch m {
	case MetricMessageCount:
		return float64(len(g.Members))
	case MetricSizeEstimate:
		return float64(g.SizeEstimate())
	case MetricMixed:
		return 0.6*float64(g.FileCount()) + 0.4*float64(g.SizeEstimate())/(1<<20)
	default:
		return float64(g.FileCount())
	}
}

func buildBalanceReport(sessions []string, asn Assignment, loads []float64) *BalanceReport {
	r := &BalanceReport{}
	minFiles, maxFiles, total := -1, 0, 0
	for i, s := range sessions {
		files := asn.Files(s)
		var msgs int
		var bytes int64
		for _, g := range asn[s] {
			msgs += len(g.Members)
			bytes += g.SizeEstimate()
		}
		r.Sessions = append(r.Sessions, SessionLoad{
			Session:  s,
			Groups:   len(asn[s]),
			Files:    files,
			Messages: msgs,
			Bytes:    bytes,
			Load:     loads[i],
		})
		total += files
		if minFiles < 0 || files < minFiles {
			minFiles = files
		}
		if files > maxFiles {
			maxFiles = files
		}
	}
	r.MeanFiles = float64(total) / float64(len(sessions))
	if maxFiles > 0 {
		r.MinMaxRatio = float64(minFiles) / float64(maxFiles)
	} else {
		r.MinMaxRatio = 1
	}
	return r
}
