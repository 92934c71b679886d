package domain

type AddItemRequest struct {
	Category string       `json:"category" validate:"required,max=200"`
	Time     string       `json:"time" validate:"max=50"`
	Tag      Tag          `json:"tag" validate:"omitempty,oneof=景点 美食 住宿 赶路 其他"`
	Note     string       `json:"note"`
	Images   []string     `json:"images" validate:"dive,url"`
	Spend    []SpendEntry `json:"spend" validate:"dive"`
}

type AddPlanRequest struct {
	Text string `json:"text" validate:"required,max=2000"`
}

type AddCommentRequest struct {
	Message string `json:"message" validate:"required,max=5000"`
}

type ToggleLikeRequest struct {
	Kind string `json:"kind" validate:"required,oneof=item plan comment"`
	Ref  string `json:"ref" validate:"required"`
}

type MoveItemRequest struct {
	ToIndex int `json:"to_index" validate:"gte=0"`
}

type ReorderRequest struct {
	ItemIDs []string `json:"item_ids" validate:"required,min=1"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Username     string `json:"username"`
	Role         string `json:"role"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type TokenResponse struct {
	Username    string `json:"username"`
	Role        string `json:"role"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type SpendSummary struct {
	Total   float64            `json:"total"`
	ByPayer map[string]float64 `json:"by_payer"`
	Entries int                `json:"entries"`
}
