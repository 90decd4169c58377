package strategies

var (
	ParseTopics      = parseTopics
	ParseLecture     = parseLecture
	RepairTextFields = repairTextFields
	CanonicalSpeaker = canonicalSpeaker
	LabelsFor        = labelsFor
)
