package speech

import "encoding/json"

// Message type tags used by the recognition service.
const (
	MsgRecognitionStarted    = "RecognitionStarted"
	MsgAddTranscript         = "AddTranscript"
	MsgAddPartialTranscript  = "AddPartialTranscript"
	MsgAddTranslation        = "AddTranslation"
	MsgAddPartialTranslation = "AddPartialTranslation"
	MsgEndOfTranscript       = "EndOfTranscript"
	MsgAudioAdded            = "AudioAdded"
	MsgError                 = "Error"
	MsgWarning               = "Warning"
	MsgInfo                  = "Info"
)

// Client-to-service message tags.
const (
	msgStartRecognition = "StartRecognition"
	msgEndOfStream      = "EndOfStream"
)

// DefaultSpeaker labels results the engine couldn't attribute.
const DefaultSpeaker = "Speaker"

// Message is the envelope for every service-to-client message. Fields are
// populated per message type; unknown types are passed through untouched
// so a newer service doesn't break an older client.
type Message struct {
	Message  string    `json:"message"`
	Reason   string    `json:"reason,omitempty"`
	Type     string    `json:"type,omitempty"`
	Code     int       `json:"code,omitempty"`
	SeqNo    int       `json:"seq_no,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
	Results  []Result  `json:"results,omitempty"`
}

// Metadata carries the whole-utterance view of a transcript message.
type Metadata struct {
	Transcript string  `json:"transcript"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
}

// Result is one recognized or translated item within a message.
type Result struct {
	Content      string        `json:"content,omitempty"`
	StartTime    float64       `json:"start_time,omitempty"`
	EndTime      float64       `json:"end_time,omitempty"`
	Speaker      string        `json:"speaker,omitempty"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

// Alternative is one hypothesis for a recognized item.
type Alternative struct {
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence,omitempty"`
	Speaker    string  `json:"speaker,omitempty"`
}

// Decode parses one raw frame into a Message.
func Decode(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}

// Speaker extracts the speaker label for a transcript message
// (results[0].alternatives[0].speaker), falling back to DefaultSpeaker.
func (m Message) Speaker() string {
	if len(m.Results) > 0 && len(m.Results[0].Alternatives) > 0 {
		if s := m.Results[0].Alternatives[0].Speaker; s != "" {
			return s
		}
	}
	return DefaultSpeaker
}

// TranslationResult extracts the first result of a translation message.
// ok is false when the message carries no results.
func (m Message) TranslationResult() (content, speaker string, startTime float64, ok bool) {
	if len(m.Results) == 0 {
		return "", "", 0, false
	}
	r := m.Results[0]
	speaker = r.Speaker
	if speaker == "" {
		speaker = DefaultSpeaker
	}
	return r.Content, speaker, r.StartTime, true
}

// AudioFormat describes the raw audio the client streams.
type AudioFormat struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// TranscriptionConfig mirrors the service's transcription settings.
type TranscriptionConfig struct {
	Language               string  `json:"language"`
	OperatingPoint         string  `json:"operating_point,omitempty"`
	EnablePartials         bool    `json:"enable_partials"`
	EnableEntities         bool    `json:"enable_entities,omitempty"`
	MaxDelay               float64 `json:"max_delay,omitempty"`
	SpeakerDiarization     string  `json:"diarization,omitempty"`
	DiarizationMaxSpeakers int     `json:"diarization_max_speakers,omitempty"`
}

// TranslationConfig requests live translation alongside transcription.
type TranslationConfig struct {
	TargetLanguages []string `json:"target_languages"`
	EnablePartials  bool     `json:"enable_partials"`
}

// StartRecognition is the session-opening message.
type StartRecognition struct {
	Message             string               `json:"message"`
	AudioFormat         AudioFormat          `json:"audio_format"`
	TranscriptionConfig TranscriptionConfig  `json:"transcription_config"`
	TranslationConfig   *TranslationConfig   `json:"translation_config,omitempty"`
}

// EndOfStream tells the service no more audio is coming; the service
// answers with EndOfTranscript once the tail is flushed.
type EndOfStream struct {
	Message   string `json:"message"`
	LastSeqNo int    `json:"last_seq_no"`
}
