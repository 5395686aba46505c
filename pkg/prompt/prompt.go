package prompt

const chapterSystemPrompt = `You are an expert prompt engineer and children's book illustrator. Create visually rich, child-friendly prompts that produce a single cohesive illustration.`

const coverSystemPrompt = `You are an expert prompt engineer and children's book illustrator. Create visually rich, child-friendly prompts that produce a single cohesive cover image.`

// verbatimDirective is the load-bearing instruction of the consistency
// feature. Chat models default to lossy summarization of supplied context;
// without this the guide gets paraphrased into drift across chapters.
const verbatimDirective = `IMPORTANT: Every character named in the CHARACTER CONSISTENCY GUIDE above must be described in your output prompt using their COMPLETE recorded description exactly as written in the guide. Do not abbreviate, summarize, or paraphrase these descriptions.`

const chapterGuidelines = `Guidelines:
- One single, engaging scene from this chapter
- Friendly, whimsical tone; bright colors; clear subject and background
- Consistent character depiction (names, looks) across chapters
- Describe characters (appearance, pose, expression), setting, mood, palette, composition
- Avoid text in the image; avoid violence/scary content
- Keep under 180 words; no extra commentary
- Do NOT add any prefix like '**Prompt for...**' or '**Image Prompt:**' - just return the description itself`

const coverGuidelines = `Guidelines:
- One single, engaging scene suitable for a cover
- Friendly, whimsical tone; bright colors; clear focal point
- Include the book title and author name as clear, legible text prominently displayed on the cover
- Position the title at the top or center, and author name at the bottom
- Use child-friendly, easy-to-read fonts for the text
- Avoid violence or scary elements; suitable for children
- Describe characters (appearance, expressions), setting, mood, color palette, composition
- Keep under 200 words; no extra commentary`
