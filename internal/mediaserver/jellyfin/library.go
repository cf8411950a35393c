package jellyfin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/viperarr/viperarr/internal/mediaserver"
)

const itemBatchSize = 200

const itemFields = "DateCreated,ProviderIds"

type mediaFoldersResponse struct {
	Items []mediaFolder `json:"Items"`
}

type mediaFolder struct {
	ID             string `json:"Id"`
	Name           string `json:"Name"`
	CollectionType string `json:"CollectionType"`
}

func (c *Client) Libraries(ctx context.Context) ([]mediaserver.Library, error) {
	resp, err := c.get(ctx, c.url+"/Library/MediaFolders")
	if err != nil {
		return nil, fmt.Errorf("jellyfin media folders: %w", err)
	}
	defer drainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jellyfin media folders: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var folders mediaFoldersResponse
	if err := json.Unmarshal(body, &folders); err != nil {
		return nil, fmt.Errorf("parsing media folders: %w", err)
	}

	libraries := make([]mediaserver.Library, 0, len(folders.Items))
	for _, f := range folders.Items {
		libraries = append(libraries, mediaserver.Library{
			ID:   f.ID,
			Name: f.Name,
			Type: jellyfinLibraryType(f.CollectionType),
		})
	}
	return libraries, nil
}

func (c *Client) LibraryContents(ctx context.Context, libraryID string) ([]mediaserver.Item, error) {
	return c.fetchItems(ctx, libraryID, "Movie,Series", time.Time{}, "")
}

// RecentlyAdded filters server side on MinDateCreated so only the delta
// since the last sync comes back.
func (c *Client) RecentlyAdded(ctx context.Context, libraryID string, since time.Time) ([]mediaserver.Item, error) {
	return c.fetchItems(ctx, libraryID, "Movie,Series", since, "")
}

// Children returns the episodes beneath a show or season.
func (c *Client) Children(ctx context.Context, ratingKey string) ([]mediaserver.Item, error) {
	return c.fetchItems(ctx, ratingKey, "Episode", time.Time{}, "")
}

func (c *Client) Item(ctx context.Context, ratingKey string) (*mediaserver.Item, error) {
	u, err := url.Parse(c.url + "/Items")
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("Ids", ratingKey)
	q.Set("Fields", itemFields)
	u.RawQuery = q.Encode()

	resp, err := c.get(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("jellyfin item %s: %w", ratingKey, err)
	}
	defer drainBody(resp)
	if resp.StatusCode == http.StatusNotFound {
		return nil, mediaserver.ErrItemNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jellyfin item %s: status %d", ratingKey, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}

	var page itemsResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("parsing item: %w", err)
	}
	if len(page.Items) == 0 {
		return nil, mediaserver.ErrItemNotFound
	}
	item := toItem(page.Items[0], "")
	return &item, nil
}

// fetchItems pages through /Items. userID scopes the query so UserData
// (play state) is populated for that user.
func (c *Client) fetchItems(ctx context.Context, parentID, itemTypes string, since time.Time, userID string) ([]mediaserver.Item, error) {
	var all []mediaserver.Item
	offset := 0

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		u, err := url.Parse(c.url + "/Items")
		if err != nil {
			return nil, fmt.Errorf("parse URL: %w", err)
		}
		q := u.Query()
		q.Set("ParentId", parentID)
		q.Set("Recursive", "true")
		q.Set("IncludeItemTypes", itemTypes)
		q.Set("Fields", itemFields)
		q.Set("StartIndex", strconv.Itoa(offset))
		q.Set("Limit", strconv.Itoa(itemBatchSize))
		if !since.IsZero() {
			q.Set("MinDateCreated", since.UTC().Format(time.RFC3339))
		}
		if userID != "" {
			q.Set("userId", userID)
			q.Set("Filters", "IsPlayed")
		}
		u.RawQuery = q.Encode()

		resp, err := c.get(ctx, u.String())
		if err != nil {
			return nil, fmt.Errorf("jellyfin items: %w", err)
		}
		body, rerr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		drainBody(resp)
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("jellyfin items: status %d", resp.StatusCode)
		}
		if rerr != nil {
			return nil, rerr
		}

		var page itemsResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("parsing items: %w", err)
		}
		if len(page.Items) == 0 {
			break
		}

		for _, ji := range page.Items {
			all = append(all, toItem(ji, parentID))
		}

		offset += len(page.Items)
		if offset >= page.TotalRecordCount {
			break
		}
	}

	return all, nil
}

func jellyfinLibraryType(collectionType string) mediaserver.LibraryType {
	switch collectionType {
	case "movies":
		return mediaserver.LibraryTypeMovie
	case "tvshows":
		return mediaserver.LibraryTypeShow
	default:
		return mediaserver.LibraryTypeOther
	}
}
