package tours

type RetrieveTourQuery struct {
	IncludeGraph bool `query:"include_graph" json:"include_graph,omitempty"`
}

type ListToursQuery struct {
	Limit  int     `query:"limit" json:"limit,omitempty" default:"10" validate:"min=1,max=100"`
	Offset int     `query:"offset" json:"offset,omitempty" validate:"min=0"`
	UserID *string `query:"user_id" json:"user_id,omitempty"`
}
