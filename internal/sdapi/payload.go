package sdapi

// PromptPrefix is prepended to every user prompt
const PromptPrefix = "ultra detailed 8k cg,"

// NegativePrompt is sent with every request
const NegativePrompt = " (worst quality, low quality:1.3), logo, watermark, signature, text,easynegative"

// Txt2ImgRequest is the body of POST /sdapi/v1/txt2img
type Txt2ImgRequest struct {
	EnableHR                          bool           `json:"enable_hr"`
	DenoisingStrength                 float64        `json:"denoising_strength"`
	FirstphaseWidth                   int            `json:"firstphase_width"`
	FirstphaseHeight                  int            `json:"firstphase_height"`
	HRScale                           float64        `json:"hr_scale"`
	HRUpscaler                        string         `json:"hr_upscaler"`
	HRSecondPassSteps                 int            `json:"hr_second_pass_steps"`
	HRResizeX                         int            `json:"hr_resize_x"`
	HRResizeY                         int            `json:"hr_resize_y"`
	Prompt                            string         `json:"prompt"`
	Styles                            []string       `json:"styles"`
	Seed                              int64          `json:"seed"`
	Subseed                           int64          `json:"subseed"`
	SubseedStrength                   float64        `json:"subseed_strength"`
	SeedResizeFromH                   int            `json:"seed_resize_from_h"`
	SeedResizeFromW                   int            `json:"seed_resize_from_w"`
	SamplerName                       string         `json:"sampler_name"`
	BatchSize                         int            `json:"batch_size"`
	NIter                             int            `json:"n_iter"`
	Steps                             int            `json:"steps"`
	CFGScale                          float64        `json:"cfg_scale"`
	Width                             int            `json:"width"`
	Height                            int            `json:"height"`
	RestoreFaces                      bool           `json:"restore_faces"`
	Tiling                            bool           `json:"tiling"`
	DoNotSaveSamples                  bool           `json:"do_not_save_samples"`
	DoNotSaveGrid                     bool           `json:"do_not_save_grid"`
	NegativePrompt                    string         `json:"negative_prompt"`
	Eta                               float64        `json:"eta"`
	SChurn                            float64        `json:"s_churn"`
	STmax                             float64        `json:"s_tmax"`
	ENSD                              int            `json:"ENSD"`
	STmin                             float64        `json:"s_tmin"`
	SNoise                            float64        `json:"s_noise"`
	OverrideSettings                  map[string]any `json:"override_settings"`
	OverrideSettingsRestoreAfterwards bool           `json:"override_settings_restore_afterwards"`
	ScriptArgs                        []any          `json:"script_args"`
	SamplerIndex                      string         `json:"sampler_index"`
	ScriptName                        string         `json:"script_name"`
	SendImages                        bool           `json:"send_images"`
	SaveImages                        bool           `json:"save_images"`
	AlwaysonScripts                   map[string]any `json:"alwayson_scripts"`
}

// NewTxt2ImgRequest builds the request for one prompt with the house
// sampler settings
func NewTxt2ImgRequest(prompt string, batchSize int) *Txt2ImgRequest {
	return &Txt2ImgRequest{
		HRScale:                           2,
		Prompt:                            PromptPrefix + prompt,
		Styles:                            []string{},
		Seed:                              -1,
		Subseed:                           -1,
		SeedResizeFromH:                   -1,
		SeedResizeFromW:                   -1,
		SamplerName:                       "DPM++ 2M Karras",
		BatchSize:                         batchSize,
		NIter:                             1,
		Steps:                             30,
		CFGScale:                          10,
		Width:                             768,
		Height:                            768,
		NegativePrompt:                    NegativePrompt,
		Eta:                               0.68,
		ENSD:                              31337,
		SNoise:                            1,
		OverrideSettings:                  map[string]any{},
		OverrideSettingsRestoreAfterwards: true,
		ScriptArgs:                        []any{},
		SamplerIndex:                      "DDIM",
		SendImages:                        true,
		AlwaysonScripts:                   map[string]any{},
	}
}
