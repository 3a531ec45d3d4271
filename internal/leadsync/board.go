package leadsync

// BoardColumn is one pipeline stage and the leads currently in it.
type BoardColumn struct {
	StageID   string `json:"stageId"`
	StageName string `json:"stageName"`
	Leads     []Lead `json:"leads"`
}

// BuildBoard groups leads into stage columns in sortOrder. Leads whose stage is
// not defined land in a trailing column named UnknownLabel.
func BuildBoard(leads []Lead, stages []Stage) []BoardColumn {
	cols := make([]BoardColumn, 0, len(stages)+1)
	index := make(map[string]int, len(stages))
	for _, stage := range stages {
		if _, dup := index[stage.ID]; dup {
			continue
		}
		index[stage.ID] = len(cols)
		cols = append(cols, BoardColumn{StageID: stage.ID, StageName: stage.Name, Leads: []Lead{}})
	}
	var orphans []Lead
	for _, lead := range leads {
		if i, ok := index[lead.StageID]; ok {
			cols[i].Leads = append(cols[i].Leads, lead)
			continue
		}
		orphans = append(orphans, lead)
	}
	if len(orphans) > 0 {
		cols = append(cols, BoardColumn{StageName: UnknownLabel, Leads: orphans})
	}
	return cols
}
