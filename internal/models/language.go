package models

// Language is a transcription language hint accepted by the remote worker.
type Language struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	NativeName string `json:"native_name,omitempty"`
}

// DefaultLanguage lets the worker detect the spoken language itself.
const DefaultLanguage = "auto"

var Languages = []Language{
	{Code: "auto", Name: "Auto-detect", NativeName: "Automatic"},
	{Code: "en", Name: "English", NativeName: "English"},
	{Code: "zh", Name: "Chinese", NativeName: "中文"},
	{Code: "ms", Name: "Malay", NativeName: "Bahasa Melayu"},
}

// LanguageByCode returns the language with the given code, if supported.
func LanguageByCode(code string) (Language, bool) {
	for _, lang := range Languages {
		if lang.Code == code {
			return lang, true
		}
	}
	return Language{}, false
}
