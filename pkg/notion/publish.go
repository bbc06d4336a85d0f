package notion

import (
	"context"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
)

// Property names of the playbook database.
const (
	PropTitle     = "Account"
	PropRequestID = "Request ID"
	PropSummary   = "Summary"
	PropStatus    = "Status"
	PropGenerated = "Generated"
	PropSources   = "Sources"
)

// maxRichText is the Notion limit for a single rich text object.
const maxRichText = 2000

// QueryAll fetches every page matching req, following cursors.
func QueryAll(ctx context.Context, c Client, dbID string, req *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	if req == nil {
		req = &notionapi.DatabaseQueryRequest{}
	}
	var all []notionapi.Page
	cursor := req.StartCursor
	for {
		page := *req
		page.StartCursor = cursor
		resp, err := c.QueryDatabase(ctx, dbID, &page)
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all")
		}
		all = append(all, resp.Results...)
		if !resp.HasMore || resp.NextCursor == "" {
			return all, nil
		}
		cursor = resp.NextCursor
	}
}

// FindByRequestID returns the page published for requestID, or nil.
func FindByRequestID(ctx context.Context, c Client, dbID, requestID string) (*notionapi.Page, error) {
	pages, err := QueryAll(ctx, c, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: PropRequestID,
			RichText: &notionapi.TextFilterCondition{Equals: requestID},
		},
		PageSize: 1,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: find request %s", requestID)
	}
	if len(pages) == 0 {
		return nil, nil
	}
	return &pages[0], nil
}

// PublishResult identifies the page a report was written to.
type PublishResult struct {
	PageID  string
	Created bool
}

// PublishReport writes report to the playbook database. Publishing the same
// request again updates its existing page instead of adding a second one.
func PublishReport(ctx context.Context, c Client, dbID string, req *model.ResearchRequest, report *model.ResearchReport) (*PublishResult, error) {
	existing, err := FindByRequestID(ctx, c, dbID, req.ID)
	if err != nil {
		return nil, err
	}

	props := reportProperties(req, report)
	if existing != nil {
		page, err := c.UpdatePage(ctx, string(existing.ID), &notionapi.PageUpdateRequest{Properties: props})
		if err != nil {
			return nil, eris.Wrapf(err, "notion: update playbook for %s", req.ID)
		}
		return &PublishResult{PageID: string(page.ID)}, nil
	}

	page, err := c.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: props,
		Children:   PlaybookBlocks(report.Content),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: create playbook for %s", req.ID)
	}
	return &PublishResult{PageID: string(page.ID), Created: true}, nil
}

func reportProperties(req *model.ResearchRequest, report *model.ResearchReport) notionapi.Properties {
	generated := notionapi.Date(report.GeneratedAt.UTC())
	if report.GeneratedAt.IsZero() {
		generated = notionapi.Date(time.Now().UTC())
	}
	status := "Synthesized"
	if report.Fallback {
		status = "Fallback"
	}
	return notionapi.Properties{
		PropTitle: notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: richText(req.TargetAccount),
		},
		PropRequestID: notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(req.ID),
		},
		PropSummary: notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(report.Summary),
		},
		PropStatus: notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: status},
		},
		PropGenerated: notionapi.DateProperty{
			Type: notionapi.PropertyTypeDate,
			Date: &notionapi.DateObject{Start: &generated},
		},
		PropSources: notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: float64(len(report.Sources)),
		},
	}
}

// PlaybookBlocks renders a playbook as page content.
func PlaybookBlocks(pb model.Playbook) []notionapi.Block {
	var blocks []notionapi.Block
	if pb.TopInsight != "" {
		blocks = append(blocks, paragraph(pb.TopInsight))
	}
	for _, s := range pb.Sections {
		blocks = append(blocks, heading(s.Heading))
		if s.Content != "" {
			blocks = append(blocks, paragraph(s.Content))
		}
		for _, b := range s.Bullets {
			blocks = append(blocks, bullet(b))
		}
	}
	if len(pb.Playbook.TalkingPoints) > 0 {
		blocks = append(blocks, heading("Talking points"))
		for _, tp := range pb.Playbook.TalkingPoints {
			blocks = append(blocks, bullet(tp))
		}
	}
	if len(pb.RecommendedActions) > 0 {
		blocks = append(blocks, heading("Recommended actions"))
		for _, a := range pb.RecommendedActions {
			blocks = append(blocks, bullet(a))
		}
	}
	return blocks
}

func richText(s string) []notionapi.RichText {
	s = strings.TrimSpace(s)
	if len(s) > maxRichText {
		s = s[:maxRichText]
	}
	return []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}}
}

func heading(s string) notionapi.Block {
	return &notionapi.Heading2Block{
		BasicBlock: notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeHeading2},
		Heading2:   notionapi.Heading{RichText: richText(s)},
	}
}

func paragraph(s string) notionapi.Block {
	return &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeParagraph},
		Paragraph:  notionapi.Paragraph{RichText: richText(s)},
	}
}

func bullet(s string) notionapi.Block {
	return &notionapi.BulletedListItemBlock{
		BasicBlock:       notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeBulletedListItem},
		BulletedListItem: notionapi.ListItem{RichText: richText(s)},
	}
}
