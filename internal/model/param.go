package model

type PublishParam struct {
	Archive        []byte
	Channel        string
	RuntimeVersion string
	AppVersion     string
	Message        string
}

type ResolveParam struct {
	Platform        string
	RuntimeVersion  string
	Channel         string
	CurrentUpdateID string
	Origin          string
}

type DeliveryParam struct {
	FileName          string
	AcceptIM          string
	CurrentUpdateID   string
	RequestedUpdateID string
}

type DeleteResult struct {
	Deleted        bool     `json:"deleted"`
	UpdateID       string   `json:"updateId"`
	AssetsDeleted  int      `json:"assetsDeleted"`
	PatchesDeleted int      `json:"patchesDeleted"`
	EventsDeleted  int      `json:"eventsDeleted"`
	Warnings       []string `json:"warnings"`
}
