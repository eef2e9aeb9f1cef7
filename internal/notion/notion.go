package notion

//go:generate mockgen -source=notion.go -destination=mock_notion/mock_notion.go -package=mock_notion
type NotionClient interface {
	Page() PageService
	Search() SearchService
	Block() BlockService
	Database() DatabaseService
}

// ClientFactory builds a NotionClient for a user's token
type ClientFactory func(token string) NotionClient
