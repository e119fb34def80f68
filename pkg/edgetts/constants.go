package edgetts

const (
	trustedClientToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"

	wssEndpoint = "wss://speech.platform.bing.com/consumer/speech/synthesize/" +
		"readaloud/edge/v1?TrustedClientToken=" + trustedClientToken
	voiceListEndpoint = "https://speech.platform.bing.com/consumer/speech/synthesize/" +
		"readaloud/voices/list?trustedclienttoken=" + trustedClientToken
)

const (
	pathTurnStart     = "turn.start"
	pathTurnEnd       = "turn.end"
	pathAudioMetadata = "audio.metadata"
	pathResponse      = "response"
)

const (
	DefaultVoice  = "Microsoft Server Speech Text to Speech Voice (en-US, AriaNeural)"
	DefaultRate   = "+0%"
	DefaultVolume = "+0%"
	DefaultPitch  = "+0Hz"
)

// TicksPerSecond is the service's native time unit: 100-nanosecond ticks.
const TicksPerSecond = 10_000_000

// durationPadding is the average encoder padding the service appends to each
// utterance but never reports in the word-boundary metadata. It is an
// empirical constant observed from the service, used only to estimate a
// finished chunk's total duration when shifting the next chunk's offsets.
const durationPadding = 8_750_000

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/91.0.4472.77 Safari/537.36 Edg/91.0.864.41"
