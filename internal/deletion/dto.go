package deletion

type ConfirmNameRequest struct {
	Name string `json:"name" validate:"required"`
}

type ConfirmPhraseRequest struct {
	Phrase string `json:"phrase" validate:"required"`
}

type FinalizeRequest struct {
	DeletionType        string `json:"deletion_type" validate:"required,oneof=soft permanent"`
	DataExportRequested bool   `json:"data_export_requested"`
	ExportFormat        string `json:"export_format,omitempty" validate:"omitempty,oneof=json csv"`
	Reason              string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

func (r FinalizeRequest) exportFormat() string {
	if r.ExportFormat == "" {
		return "json"
	}
	return r.ExportFormat
}

func (r FinalizeRequest) exportFormatPtr() *string {
	if !r.DataExportRequested {
		return nil
	}
	f := r.exportFormat()
	return &f
}

func (r FinalizeRequest) reasonPtr() *string {
	if r.Reason == "" {
		return nil
	}
	return &r.Reason
}
