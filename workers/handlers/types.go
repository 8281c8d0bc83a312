package handlers

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type APIStateResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Chains  []string `json:"chains"`
}

type APIChain struct {
	Name        string `json:"name"`
	NativeAsset string `json:"nativeAsset"`
	Signer      string `json:"signer"`
	Vault       string `json:"vault"`
	RelayDelay  string `json:"relayDelay"`
}
