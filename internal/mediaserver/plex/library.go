package plex

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/viperarr/viperarr/internal/mediaserver"
)

const itemBatchSize = 200

type sectionsContainer struct {
	XMLName     xml.Name         `xml:"MediaContainer"`
	Directories []sectionElement `xml:"Directory"`
}

type sectionElement struct {
	Key   string `xml:"key,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

type itemsContainer struct {
	XMLName     xml.Name      `xml:"MediaContainer"`
	TotalSize   int           `xml:"totalSize,attr"`
	Size        int           `xml:"size,attr"`
	Videos      []itemElement `xml:"Video"`
	Directories []itemElement `xml:"Directory"`
}

type itemElement struct {
	RatingKey            string     `xml:"ratingKey,attr"`
	Type                 string     `xml:"type,attr"`
	Title                string     `xml:"title,attr"`
	Year                 string     `xml:"year,attr"`
	AddedAt              string     `xml:"addedAt,attr"`
	UpdatedAt            string     `xml:"updatedAt,attr"`
	ViewCount            string     `xml:"viewCount,attr"`
	LastViewedAt         string     `xml:"lastViewedAt,attr"`
	LibrarySectionID     string     `xml:"librarySectionID,attr"`
	GrandparentRatingKey string     `xml:"grandparentRatingKey,attr"`
	GrandparentTitle     string     `xml:"grandparentTitle,attr"`
	ParentIndex          string     `xml:"parentIndex,attr"`
	Index                string     `xml:"index,attr"`
	Guids                []plexGuid `xml:"Guid"`
}

func (c *Client) Libraries(ctx context.Context) ([]mediaserver.Library, error) {
	resp, err := c.get(ctx, c.url+"/library/sections")
	if err != nil {
		return nil, fmt.Errorf("plex library sections: %w", err)
	}
	defer drainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("plex library sections: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var container sectionsContainer
	if err := xml.Unmarshal(body, &container); err != nil {
		return nil, fmt.Errorf("parsing library sections: %w", err)
	}

	libraries := make([]mediaserver.Library, 0, len(container.Directories))
	for _, dir := range container.Directories {
		libraries = append(libraries, mediaserver.Library{
			ID:   dir.Key,
			Name: dir.Title,
			Type: plexLibraryType(dir.Type),
		})
	}
	return libraries, nil
}

func (c *Client) LibraryContents(ctx context.Context, libraryID string) ([]mediaserver.Item, error) {
	return c.fetchSectionItems(ctx, libraryID, time.Time{})
}

// RecentlyAdded returns items in a section added at or after since. Plex
// supports the addedAt>= filter server side, so only the delta comes back.
func (c *Client) RecentlyAdded(ctx context.Context, libraryID string, since time.Time) ([]mediaserver.Item, error) {
	return c.fetchSectionItems(ctx, libraryID, since)
}

func (c *Client) fetchSectionItems(ctx context.Context, libraryID string, since time.Time) ([]mediaserver.Item, error) {
	var all []mediaserver.Item
	offset := 0

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		container, err := c.fetchSectionBatch(ctx, libraryID, since, offset)
		if err != nil {
			return nil, err
		}

		elems := append(container.Videos, container.Directories...)
		if len(elems) == 0 {
			break
		}
		for _, e := range elems {
			all = append(all, c.toItem(e, libraryID))
		}

		offset += len(elems)
		if len(elems) < itemBatchSize {
			break
		}
	}

	return all, nil
}

func (c *Client) fetchSectionBatch(ctx context.Context, libraryID string, since time.Time, offset int) (*itemsContainer, error) {
	u, err := url.Parse(fmt.Sprintf("%s/library/sections/%s/all", c.url, url.PathEscape(libraryID)))
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("includeGuids", "1")
	q.Set("X-Plex-Container-Start", strconv.Itoa(offset))
	q.Set("X-Plex-Container-Size", strconv.Itoa(itemBatchSize))
	if !since.IsZero() {
		q.Set("addedAt>", strconv.FormatInt(since.Unix(), 10))
	}
	u.RawQuery = q.Encode()

	resp, err := c.get(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("plex library items: %w", err)
	}
	defer drainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("plex library items: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}

	var container itemsContainer
	if err := xml.Unmarshal(body, &container); err != nil {
		return nil, fmt.Errorf("parsing library items: %w", err)
	}
	return &container, nil
}

func (c *Client) Item(ctx context.Context, ratingKey string) (*mediaserver.Item, error) {
	resp, err := c.get(ctx, c.url+"/library/metadata/"+url.PathEscape(ratingKey)+"?includeGuids=1")
	if err != nil {
		return nil, fmt.Errorf("plex metadata %s: %w", ratingKey, err)
	}
	defer drainBody(resp)
	if resp.StatusCode == http.StatusNotFound {
		return nil, mediaserver.ErrItemNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("plex metadata %s: status %d", ratingKey, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}

	var container itemsContainer
	if err := xml.Unmarshal(body, &container); err != nil {
		return nil, fmt.Errorf("parsing metadata: %w", err)
	}

	elems := append(container.Videos, container.Directories...)
	if len(elems) == 0 {
		return nil, mediaserver.ErrItemNotFound
	}
	item := c.toItem(elems[0], elems[0].LibrarySectionID)
	return &item, nil
}

// Children returns the leaf episodes beneath a show or season. The allLeaves
// endpoint flattens seasons, so one call covers a whole series.
func (c *Client) Children(ctx context.Context, ratingKey string) ([]mediaserver.Item, error) {
	var all []mediaserver.Item
	offset := 0

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		u, err := url.Parse(fmt.Sprintf("%s/library/metadata/%s/allLeaves", c.url, url.PathEscape(ratingKey)))
		if err != nil {
			return nil, fmt.Errorf("parse URL: %w", err)
		}
		q := u.Query()
		q.Set("X-Plex-Container-Start", strconv.Itoa(offset))
		q.Set("X-Plex-Container-Size", strconv.Itoa(itemBatchSize))
		u.RawQuery = q.Encode()

		resp, err := c.get(ctx, u.String())
		if err != nil {
			return nil, fmt.Errorf("plex children %s: %w", ratingKey, err)
		}
		body, rerr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		drainBody(resp)
		if resp.StatusCode == http.StatusNotFound {
			return nil, mediaserver.ErrItemNotFound
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("plex children %s: status %d", ratingKey, resp.StatusCode)
		}
		if rerr != nil {
			return nil, rerr
		}

		var container itemsContainer
		if err := xml.Unmarshal(body, &container); err != nil {
			return nil, fmt.Errorf("parsing children: %w", err)
		}

		if len(container.Videos) == 0 {
			break
		}
		for _, e := range container.Videos {
			all = append(all, c.toItem(e, e.LibrarySectionID))
		}

		offset += len(container.Videos)
		if len(container.Videos) < itemBatchSize {
			break
		}
	}

	return all, nil
}

func (c *Client) toItem(e itemElement, libraryID string) mediaserver.Item {
	var lastViewed *time.Time
	if ts := atoi64(e.LastViewedAt); ts > 0 {
		t := time.Unix(ts, 0).UTC()
		lastViewed = &t
	}

	item := mediaserver.Item{
		RatingKey:            e.RatingKey,
		Title:                e.Title,
		Year:                 atoi(e.Year),
		Type:                 plexItemType(e.Type),
		LibraryID:            libraryID,
		ViewCount:            atoi(e.ViewCount),
		LastViewedAt:         lastViewed,
		GrandparentRatingKey: e.GrandparentRatingKey,
		GrandparentTitle:     e.GrandparentTitle,
		SeasonNumber:         atoi(e.ParentIndex),
		EpisodeNumber:        atoi(e.Index),
		ExternalIDs:          parseGuids(e.Guids),
	}
	if ts := atoi64(e.AddedAt); ts > 0 {
		item.AddedAt = time.Unix(ts, 0).UTC()
	}
	if ts := atoi64(e.UpdatedAt); ts > 0 {
		item.UpdatedAt = time.Unix(ts, 0).UTC()
	}
	return item
}

func plexLibraryType(t string) mediaserver.LibraryType {
	switch t {
	case "movie":
		return mediaserver.LibraryTypeMovie
	case "show":
		return mediaserver.LibraryTypeShow
	default:
		return mediaserver.LibraryTypeOther
	}
}
