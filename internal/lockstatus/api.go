package lockstatus

// apiResponse models one page of the vendor's lock status listing.
type apiResponse struct {
	Code int `json:"code"`
	Data struct {
		Page     int         `json:"page"`
		PageSize int         `json:"pageSize"`
		Total    int         `json:"total"`
		Items    []LockState `json:"items"`
	} `json:"data"`
}

// LockState is the vendor's report for a single lock.
type LockState struct {
	LockID string `json:"lockId"`
	SiteID string `json:"siteId"`
	State  int    `json:"state"`
}
