package notion_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/jomei/notionapi"
	"github.com/takak2166/notionsnap/internal/notion"
	"github.com/takak2166/notionsnap/internal/notion/mock_notion"
)

func newClient(t *testing.T) (*notion.Client, *mock_notion.MockNotionClient, *gomock.Controller) {
	ctrl := gomock.NewController(t)
	mockClient := mock_notion.NewMockNotionClient(ctrl)
	c := notion.New(mockClient, notion.NewQueue(100)).WithRateLimitBackoff(3, time.Millisecond)
	return c, mockClient, ctrl
}

func TestClient_Search(t *testing.T) {
	c, mockClient, ctrl := newClient(t)
	defer ctrl.Finish()

	mockSearch := mock_notion.NewMockSearchService(ctrl)
	mockClient.EXPECT().Search().Return(mockSearch)
	mockSearch.EXPECT().
		Do(gomock.Any(), &notionapi.SearchRequest{StartCursor: "abc", PageSize: notion.PageSize}).
		Return(&notionapi.SearchResponse{HasMore: false}, nil)

	resp, err := c.Search(context.Background(), notionapi.Cursor("abc"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.HasMore {
		t.Errorf("expected HasMore=false")
	}
}

func TestClient_RetriesRateLimited(t *testing.T) {
	tests := map[string]struct {
		errs      []error
		wantErr   bool
		wantCalls int
	}{
		"429 then success": {
			errs:      []error{&notionapi.Error{Status: http.StatusTooManyRequests}, nil},
			wantErr:   false,
			wantCalls: 2,
		},
		"429 exhausts attempts": {
			errs: []error{
				&notionapi.Error{Status: http.StatusTooManyRequests},
				&notionapi.Error{Status: http.StatusTooManyRequests},
				&notionapi.Error{Status: http.StatusTooManyRequests},
			},
			wantErr:   true,
			wantCalls: 3,
		},
		"404 is not retried": {
			errs:      []error{&notionapi.Error{Status: http.StatusNotFound}},
			wantErr:   true,
			wantCalls: 1,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c, mockClient, ctrl := newClient(t)
			defer ctrl.Finish()

			mockBlock := mock_notion.NewMockBlockService(ctrl)
			mockClient.EXPECT().Block().Return(mockBlock).Times(tt.wantCalls)
			calls := 0
			mockBlock.EXPECT().
				GetChildren(gomock.Any(), notionapi.BlockID("page-1"), gomock.Any()).
				DoAndReturn(func(context.Context, notionapi.BlockID, *notionapi.Pagination) (*notionapi.GetChildrenResponse, error) {
					err := tt.errs[calls]
					calls++
					if err != nil {
						return nil, err
					}
					return &notionapi.GetChildrenResponse{}, nil
				}).
				Times(tt.wantCalls)

			_, err := c.BlockChildren(context.Background(), "page-1", "")
			if (err != nil) != tt.wantErr {
				t.Errorf("BlockChildren() error = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, calls)
			}
		})
	}
}

func TestClient_AppendChildrenBatches(t *testing.T) {
	c, mockClient, ctrl := newClient(t)
	defer ctrl.Finish()

	children := make([]notionapi.Block, 250)
	for i := range children {
		children[i] = &notionapi.ParagraphBlock{
			BasicBlock: notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeParagraph},
		}
	}

	mockBlock := mock_notion.NewMockBlockService(ctrl)
	mockClient.EXPECT().Block().Return(mockBlock).Times(3)
	var sizes []int
	mockBlock.EXPECT().
		AppendChildren(gomock.Any(), notionapi.BlockID("parent"), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ notionapi.BlockID, req *notionapi.AppendBlockChildrenRequest) (*notionapi.AppendBlockChildrenResponse, error) {
			sizes = append(sizes, len(req.Children))
			return &notionapi.AppendBlockChildrenResponse{Results: req.Children}, nil
		}).
		Times(3)

	created, err := c.AppendChildren(context.Background(), "parent", children)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 250 {
		t.Errorf("expected 250 created blocks, got %d", len(created))
	}
	want := []int{100, 100, 50}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("batch %d: expected %d children, got %d", i, want[i], sizes[i])
		}
	}
}

func TestClient_AppendChildrenStopsOnError(t *testing.T) {
	c, mockClient, ctrl := newClient(t)
	defer ctrl.Finish()

	children := make([]notionapi.Block, 150)
	for i := range children {
		children[i] = &notionapi.DividerBlock{
			BasicBlock: notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeDivider},
		}
	}

	mockBlock := mock_notion.NewMockBlockService(ctrl)
	mockClient.EXPECT().Block().Return(mockBlock).Times(2)
	gomock.InOrder(
		mockBlock.EXPECT().AppendChildren(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ notionapi.BlockID, req *notionapi.AppendBlockChildrenRequest) (*notionapi.AppendBlockChildrenResponse, error) {
				return &notionapi.AppendBlockChildrenResponse{Results: req.Children}, nil
			}),
		mockBlock.EXPECT().AppendChildren(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, errors.New("boom")),
	)

	created, err := c.AppendChildren(context.Background(), "parent", children)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(created) != 100 {
		t.Errorf("expected the first batch to be returned, got %d", len(created))
	}
}

func TestIsUnauthorized(t *testing.T) {
	tests := map[string]struct {
		err  error
		want bool
	}{
		"401":   {err: &notionapi.Error{Status: http.StatusUnauthorized}, want: true},
		"403":   {err: &notionapi.Error{Status: http.StatusForbidden}, want: true},
		"500":   {err: &notionapi.Error{Status: http.StatusInternalServerError}, want: false},
		"plain": {err: errors.New("x"), want: false},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := notion.IsUnauthorized(tt.err); got != tt.want {
				t.Errorf("IsUnauthorized() = %v, want %v", got, tt.want)
			}
		})
	}
}
