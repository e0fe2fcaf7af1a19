package notion

import (
	"context"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// DigestPage holds the content published to the digest database. Body
// lines become paragraph blocks on the page.
type DigestPage struct {
	Title           string
	Date            time.Time
	Status          string
	TotalExceptions int
	RedOwners       int
	Body            []string
}

// PublishDigest creates the digest page for d.Date, or updates its
// properties if one already exists for that day. Returns the page ID.
func PublishDigest(ctx context.Context, c Client, dbID string, d DigestPage) (string, error) {
	existing, err := FindDigestPage(ctx, c, dbID, d.Date)
	if err != nil {
		return "", eris.Wrap(err, "notion: publish digest")
	}

	props := buildDigestProperties(d)

	if existing != nil {
		page, err := c.UpdatePage(ctx, string(existing.ID), &notionapi.PageUpdateRequest{
			Properties: props,
		})
		if err != nil {
			return "", eris.Wrap(err, "notion: publish digest update")
		}
		return string(page.ID), nil
	}

	page, err := c.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: props,
		Children:   buildDigestBlocks(d.Body),
	})
	if err != nil {
		return "", eris.Wrap(err, "notion: publish digest create")
	}
	return string(page.ID), nil
}

func buildDigestProperties(d DigestPage) notionapi.Properties {
	date := notionapi.Date(d.Date)
	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Type: notionapi.PropertyTypeTitle,
			Title: []notionapi.RichText{
				{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: d.Title}},
			},
		},
		"Date": notionapi.DateProperty{
			Type: notionapi.PropertyTypeDate,
			Date: &notionapi.DateObject{Start: &date},
		},
		"Exceptions": notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: float64(d.TotalExceptions),
		},
		"Red Owners": notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: float64(d.RedOwners),
		},
	}
	if d.Status != "" {
		props["Status"] = notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: d.Status},
		}
	}
	return props
}

func buildDigestBlocks(lines []string) []notionapi.Block {
	blocks := make([]notionapi.Block, 0, len(lines))
	for _, line := range lines {
		blocks = append(blocks, &notionapi.ParagraphBlock{
			BasicBlock: notionapi.BasicBlock{
				Object: notionapi.ObjectTypeBlock,
				Type:   notionapi.BlockTypeParagraph,
			},
			Paragraph: notionapi.Paragraph{
				RichText: []notionapi.RichText{
					{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: line}},
				},
			},
		})
	}
	return blocks
}
