package analysis

// extractTextPrompt asks a vision model for a plain transcription
const extractTextPrompt = `You are reading a photograph of a page from a book, magazine, newspaper or article.
Transcribe all of the readable text on the page exactly as printed, in reading order.

Important:
- Return only the transcribed text
- Do not describe the image
- Do not add commentary, headings or markdown
- If no text is readable, return an empty response`

// analyzePrompt asks a language model for a JSON summary of transcribed text.
// The single %s verb receives the text.
const analyzePrompt = `You are analyzing text transcribed from a page of reading material.

1. **Summary**: Write two or three sentences capturing the main ideas of the passage.

2. **Keywords**: List three to six short keywords or key phrases describing the topics covered.

3. **Quotes**: Pick up to three notable sentences copied verbatim from the text.

4. **Document Type**: Decide which kind of publication the page most likely comes from. Use exactly one of: "book", "magazine", "newspaper", "article", "other".

Return ONLY valid JSON in this exact format:
{
  "summary": "Two or three sentences",
  "keywords": ["keyword one", "keyword two"],
  "quotes": ["A sentence from the text."],
  "document_type": "book"
}

Important:
- Keywords and quotes must be arrays of strings
- If you cannot decide the document type, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks

Text:
%s`
