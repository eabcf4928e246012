package pressroom

// tokenResponse is the OAuth client-credentials grant response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// listResponse is one page of the published-content listing.
type listResponse struct {
	Items      []contentPayload `json:"items"`
	NextCursor *string          `json:"nextCursor"`
}

type contentPayload struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Body         string  `json:"body"`
	ThumbnailURL string  `json:"thumbnailUrl"`
	Author       *string `json:"author"`
	Status       string  `json:"status"`
	PublishedAt  string  `json:"publishedAt"`
}
