package normalize

import (
	"sort"
	"strings"

	"github.com/okian/feedtrace/internal/domain/participant"
	"github.com/okian/feedtrace/internal/domain/types"
)

// Names resolves a researcher-assigned friendly name for a post.
type Names interface {
	PostName(projectID, feedID, postID string) (string, bool)
}

// MapNames is a Names backed by a map keyed with NameKey.
type MapNames map[string]string

// NameKey builds the MapNames key of a post.
func NameKey(projectID, feedID, postID string) string {
	return projectID + "\x00" + feedID + "\x00" + postID
}

// PostName implements Names.
func (m MapNames) PostName(projectID, feedID, postID string) (string, bool) {
	n, ok := m[NameKey(projectID, feedID, postID)]
	if !ok || strings.TrimSpace(n) == "" {
		return "", false
	}
	return n, true
}

// Table is a roster ready to be written out.
type Table struct {
	// Header is what a spreadsheet shows: post ids replaced by friendly
	// names where one is known.
	Header []string
	// Keys are the raw column keys, aligned with Header.
	Keys    []string
	Records [][]string
}

// metricRank orders post metrics: participant row metrics first, then the
// legacy spellings.
var metricRank = func() map[string]int {
	rank := make(map[string]int)
	for i, m := range types.Metrics {
		rank[m] = i
	}
	n := len(rank)
	for _, s := range suffixes {
		if _, ok := rank[s.name]; !ok {
			rank[s.name] = n
			n++
		}
	}
	return rank
}()

// ExportTable lays rows of any variant out under one header: the base
// fields, then post columns grouped by post id in metric order, then any
// other keys. Missing cells are blank.
func ExportTable(rows []types.FlatRow, names Names, scope types.Scope) Table {
	type postCol struct{ key, id, metric string }
	var (
		seen   = make(map[string]bool)
		posts  []postCol
		others []string
	)
	for _, row := range rows {
		for k := range row {
			if seen[k] || types.IsBaseColumn(k) && k != types.ColPostsJSON {
				continue
			}
			seen[k] = true
			if id, metric, ok := SplitKey(k); ok {
				posts = append(posts, postCol{key: k, id: id, metric: metric})
				continue
			}
			others = append(others, k)
		}
	}
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].id != posts[j].id {
			return posts[i].id < posts[j].id
		}
		return metricRank[posts[i].metric] < metricRank[posts[j].metric]
	})
	sort.Strings(others)

	t := Table{}
	for _, c := range types.BaseColumns {
		t.Keys = append(t.Keys, c)
		t.Header = append(t.Header, c)
	}
	for _, c := range posts {
		t.Keys = append(t.Keys, c.key)
		label := c.id
		if names != nil {
			if n, ok := names.PostName(scope.ProjectID, scope.FeedID, c.id); ok {
				label = n
			}
		}
		t.Header = append(t.Header, types.PostColumn(label, c.metric))
	}
	for _, k := range others {
		t.Keys = append(t.Keys, k)
		t.Header = append(t.Header, k)
	}

	for _, row := range rows {
		rec := make([]string, len(t.Keys))
		for i, k := range t.Keys {
			rec[i] = participant.CSVValue(row[k])
		}
		t.Records = append(t.Records, rec)
	}
	return t
}
