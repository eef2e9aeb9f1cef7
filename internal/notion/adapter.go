package notion

import (
	"net/http"
	"time"

	"github.com/jomei/notionapi"
)

type notionClientAdapter struct {
	client *notionapi.Client
}

func newNotionClientAdapter(client *notionapi.Client) NotionClient {
	return &notionClientAdapter{client: client}
}

// NewAPIClient returns a NotionClient talking to the real Notion API with token
func NewAPIClient(token string) NotionClient {
	return NewAPIClientWithHTTP(token, &http.Client{Timeout: 60 * time.Second})
}

// NewAPIClientWithHTTP is NewAPIClient with a caller-supplied HTTP client
func NewAPIClientWithHTTP(token string, httpClient *http.Client) NotionClient {
	return newNotionClientAdapter(notionapi.NewClient(notionapi.Token(token), notionapi.WithHTTPClient(httpClient)))
}

func (a *notionClientAdapter) Page() PageService {
	return a.client.Page
}

func (a *notionClientAdapter) Search() SearchService {
	return a.client.Search
}

func (a *notionClientAdapter) Block() BlockService {
	return a.client.Block
}

func (a *notionClientAdapter) Database() DatabaseService {
	return a.client.Database
}
