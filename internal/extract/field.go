package extract

// FieldName identifies one printed field on the card front.
type FieldName string

// Field vocabulary, in the order fields appear on the card.
const (
	FieldID           FieldName = "id"
	FieldFullName     FieldName = "name"
	FieldDateOfBirth  FieldName = "dob"
	FieldGender       FieldName = "gender"
	FieldNationality  FieldName = "nationality"
	FieldOriginPlace  FieldName = "origin_place"
	FieldCurrentPlace FieldName = "current_place"
	FieldIssueDate    FieldName = "issue_date"
	FieldExpireDate   FieldName = "expire_date"
)

// Vocabulary is the canonical output order. Extraction results always follow
// this order, with absent fields omitted.
var Vocabulary = []FieldName{
	FieldID,
	FieldFullName,
	FieldDateOfBirth,
	FieldGender,
	FieldNationality,
	FieldOriginPlace,
	FieldCurrentPlace,
	FieldIssueDate,
	FieldExpireDate,
}

// displayNames maps field names to their printed Vietnamese captions.
var displayNames = map[FieldName]string{
	FieldID:           "Số / No.",
	FieldFullName:     "Họ và tên / Full name",
	FieldDateOfBirth:  "Ngày sinh / Date of birth",
	FieldGender:       "Giới tính / Sex",
	FieldNationality:  "Quốc tịch / Nationality",
	FieldOriginPlace:  "Quê quán / Place of origin",
	FieldCurrentPlace: "Nơi thường trú / Place of residence",
	FieldIssueDate:    "Ngày cấp / Date of issue",
	FieldExpireDate:   "Có giá trị đến / Date of expiry",
}

// multiline marks fields whose text can wrap across stacked boxes.
var multiline = map[FieldName]bool{
	FieldFullName:     true,
	FieldOriginPlace:  true,
	FieldCurrentPlace: true,
}

var vocabIndex = func() map[FieldName]int {
	m := make(map[FieldName]int, len(Vocabulary))
	for i, f := range Vocabulary {
		m[f] = i
	}
	return m
}()

// Known reports whether name belongs to the field vocabulary.
func Known(name FieldName) bool {
	_, ok := vocabIndex[name]
	return ok
}

// Multiline reports whether the field may span several stacked boxes.
func Multiline(name FieldName) bool { return multiline[name] }

// DisplayName returns the printed caption for a field, or the raw name for
// anything outside the vocabulary.
func DisplayName(name FieldName) string {
	if d, ok := displayNames[name]; ok {
		return d
	}
	return string(name)
}
