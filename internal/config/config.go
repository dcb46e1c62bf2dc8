package config

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	StorageSQLite   = "sqlite"
	StorageSupabase = "supabase"
)

// Speech capture modes. Push mode expects the client to run recognition and
// push transcripts over the socket; stream mode sends raw audio to AssemblyAI.
const (
	STTModePush   = "push"
	STTModeStream = "stream"
)

// Speech output providers. The client provider delegates synthesis to the
// connected device; the others synthesize server-side and stream PCM down.
const (
	TTSProviderClient     = "client"
	TTSProviderDeepgram   = "deepgram"
	TTSProviderElevenLabs = "elevenlabs"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress  string
	AuthPassword string

	StorageBackend         string
	SQLitePath             string
	SupabaseURL            string
	SupabaseServiceRoleKey string

	OpenAIKey     string
	OpenAIModelID string
	OpenAIBaseURL string

	TTSProvider       string
	DeepgramKey       string
	DeepgramTTSModel  string
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	STTMode       string
	AssemblyAIKey string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	password := os.Getenv("AUTH_PASSWORD")
	if password == "" {
		log.Println("Warning: AUTH_PASSWORD not set - API is open to anyone who can reach it")
	}

	backend := strings.ToLower(os.Getenv("STORAGE_BACKEND"))
	switch backend {
	case StorageSQLite, StorageSupabase:
	case "":
		backend = StorageSQLite
	default:
		log.Printf("Warning: unknown STORAGE_BACKEND %q - falling back to sqlite", backend)
		backend = StorageSQLite
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "snuggles.db"
	}

	supabaseURL := os.Getenv("SUPABASE_URL")
	supabaseKey := os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	if backend == StorageSupabase && (supabaseURL == "" || supabaseKey == "") {
		log.Println("Warning: SUPABASE_URL or SUPABASE_SERVICE_ROLE_KEY not set - supabase storage will not work")
	}

	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - reply generation will not work")
	}
	openAIModel := os.Getenv("OPENAI_MODEL_ID")
	if openAIModel == "" {
		openAIModel = "gpt-4o-mini"
	}

	ttsProvider := strings.ToLower(os.Getenv("TTS_PROVIDER"))
	switch ttsProvider {
	case TTSProviderClient, TTSProviderDeepgram, TTSProviderElevenLabs:
	case "":
		ttsProvider = TTSProviderClient
	default:
		log.Printf("Warning: unknown TTS_PROVIDER %q - falling back to client playback", ttsProvider)
		ttsProvider = TTSProviderClient
	}

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if ttsProvider == TTSProviderDeepgram && deepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - TTS will not work")
	}
	deepgramModel := os.Getenv("DEEPGRAM_TTS_MODEL")
	if deepgramModel == "" {
		deepgramModel = "aura-2-thalia-en"
	}

	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	voiceID := os.Getenv("ELEVENLABS_VOICE_ID")
	if ttsProvider == TTSProviderElevenLabs && (elevenKey == "" || voiceID == "") {
		log.Println("Warning: ELEVENLABS_API_KEY or ELEVENLABS_VOICE_ID not set - TTS will not work")
	}

	sttMode := strings.ToLower(os.Getenv("STT_MODE"))
	switch sttMode {
	case STTModePush, STTModeStream:
	case "":
		sttMode = STTModePush
	default:
		log.Printf("Warning: unknown STT_MODE %q - falling back to push", sttMode)
		sttMode = STTModePush
	}

	assemblyAIKey := os.Getenv("ASSEMBLYAI_API_KEY")
	if sttMode == STTModeStream && assemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - streaming transcription will not work")
	}

	log.Printf("config: HTTP_ADDRESS=%s storage=%s stt=%s tts=%s", addr, backend, sttMode, ttsProvider)
	return Config{
		HTTPAddress:            addr,
		AuthPassword:           password,
		StorageBackend:         backend,
		SQLitePath:             sqlitePath,
		SupabaseURL:            supabaseURL,
		SupabaseServiceRoleKey: supabaseKey,
		OpenAIKey:              openAIKey,
		OpenAIModelID:          openAIModel,
		OpenAIBaseURL:          os.Getenv("OPENAI_BASE_URL"),
		TTSProvider:            ttsProvider,
		DeepgramKey:            deepgramKey,
		DeepgramTTSModel:       deepgramModel,
		ElevenLabsKey:          elevenKey,
		ElevenLabsVoiceID:      voiceID,
		STTMode:                sttMode,
		AssemblyAIKey:          assemblyAIKey,
	}
}
