package prompt

// styleVocabulary holds the terms routed to the style channel. Order does not
// matter; phrases are matched before the single words they contain.
var styleVocabulary = []string{
	// quality
	"masterpiece", "best quality", "high quality", "highly detailed", "ultra detailed",
	"extremely detailed", "intricate details", "detailed", "intricate", "sharp focus",
	"high resolution", "hd", "hdr", "uhd", "4k", "8k", "16k", "award winning",
	"professional", "photorealistic", "hyperrealistic", "ultra realistic", "realistic",

	// lighting
	"cinematic lighting", "studio lighting", "dramatic lighting", "soft lighting",
	"natural lighting", "volumetric lighting", "rim lighting", "ambient lighting",
	"neon lighting", "backlit", "golden hour", "blue hour", "god rays", "moody",
	"cinematic", "dramatic", "atmospheric", "ethereal", "glowing", "luminous",

	// photography
	"bokeh", "depth of field", "shallow depth of field", "wide angle", "close-up",
	"macro", "long exposure", "tilt shift", "35mm", "50mm", "85mm", "dslr",
	"film grain", "analog photo", "polaroid", "portrait photography",
	"street photography", "fashion photography", "product photography",
	"award winning photography", "photography", "photograph",

	// rendering
	"octane render", "unreal engine", "ray tracing", "3d render", "cgi",
	"subsurface scattering", "global illumination", "physically based rendering",
	"render", "rendered",

	// art styles
	"digital art", "concept art", "fine art", "pixel art", "line art", "pop art",
	"fan art", "oil painting", "watercolor", "acrylic painting", "ink drawing",
	"pencil sketch", "charcoal drawing", "illustration", "anime", "manga",
	"cartoon", "comic book", "cel shading", "surreal", "surrealism", "impressionism",
	"impressionist", "expressionism", "art nouveau", "art deco", "baroque",
	"minimalist", "minimalism", "abstract", "cyberpunk", "steampunk", "vaporwave",
	"synthwave", "gothic", "fantasy art", "sci-fi", "retro", "vintage", "low poly",
	"isometric", "vibrant colors", "pastel colors", "monochrome", "black and white",
	"art",

	// artists and platforms
	"trending on artstation", "artstation", "deviantart", "behance", "pixiv",
	"greg rutkowski", "alphonse mucha", "studio ghibli", "makoto shinkai",
	"wlop", "artgerm", "beeple", "james jean", "moebius",
}
